package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"estate_hunter/config"
	"estate_hunter/models"
)

const apifyAPIBase = "https://api.apify.com/v2"

// ApifyClient reads dataset items from the Apify API.
type ApifyClient struct {
	base   string
	token  string
	actor  string
	client *http.Client
}

func NewApifyClient(cfg config.ApifyConfig, client *http.Client) *ApifyClient {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &ApifyClient{
		base:   strings.TrimRight(orDefault(cfg.BaseURL, apifyAPIBase), "/"),
		token:  cfg.Token,
		actor:  cfg.Actor,
		client: client,
	}
}

func (c *ApifyClient) Configured() bool {
	return c != nil && c.token != ""
}

// DatasetItems fetches every item of a dataset.
func (c *ApifyClient) DatasetItems(ctx context.Context, datasetID string) ([]map[string]any, error) {
	return c.items(ctx, fmt.Sprintf("%s/datasets/%s/items", c.base, url.PathEscape(datasetID)), nil)
}

// LastRunItems fetches the dataset of the actor's last successful run.
func (c *ApifyClient) LastRunItems(ctx context.Context) ([]map[string]any, error) {
	if c.actor == "" {
		return nil, ErrDatasetNotSpecified
	}
	endpoint := fmt.Sprintf("%s/acts/%s/runs/last/dataset/items", c.base, url.PathEscape(c.actor))
	return c.items(ctx, endpoint, url.Values{"status": {"SUCCEEDED"}})
}

func (c *ApifyClient) items(ctx context.Context, endpoint string, query url.Values) ([]map[string]any, error) {
	if !c.Configured() {
		return nil, ErrApifyNotConfigured
	}
	if query == nil {
		query = url.Values{}
	}
	query.Set("token", c.token)
	query.Set("format", "json")
	query.Set("clean", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("dataset fetch failed %d: %s", resp.StatusCode, string(body))
	}

	var raw []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}
	items := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		var item map[string]any
		if err := json.Unmarshal(r, &item); err != nil {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// DatasetHandler feeds the items of one Apify dataset through a DatasetAdapter.
type DatasetHandler struct {
	source    models.Source
	client    *ApifyClient
	adapter   DatasetAdapter
	datasetID string
	log       *zap.Logger
}

func NewDatasetHandler(source models.Source, client *ApifyClient, datasetID string, log *zap.Logger) (*DatasetHandler, error) {
	adapter, err := GetDatasetAdapter(source)
	if err != nil {
		return nil, err
	}
	return &DatasetHandler{
		source:    source,
		client:    client,
		adapter:   adapter,
		datasetID: datasetID,
		log:       log,
	}, nil
}

func (h *DatasetHandler) ID() models.Source {
	return h.source
}

func (h *DatasetHandler) Records(ctx context.Context) iter.Seq2[models.RawRecord, error] {
	return func(yield func(models.RawRecord, error) bool) {
		var (
			items []map[string]any
			err   error
		)
		if h.datasetID != "" {
			items, err = h.client.DatasetItems(ctx, h.datasetID)
		} else {
			items, err = h.client.LastRunItems(ctx)
		}
		if err != nil {
			yield(models.RawRecord{}, fmt.Errorf("apify dataset: %w", err))
			return
		}

		kept := 0
		for _, item := range items {
			rec, ok := h.adapter.Record(item)
			if !ok {
				continue
			}
			kept++
			if !yield(rec, nil) {
				return
			}
		}
		h.log.Info("apify dataset read",
			zap.String("dataset_id", h.datasetID), zap.Int("items", len(items)), zap.Int("kept", kept))
	}
}
