package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"estate_hunter/config"
	"estate_hunter/models"
)

func apifyConfig(base, token string) config.ApifyConfig {
	return config.ApifyConfig{BaseURL: base, Token: token, Actor: "apify~facebook-groups-scraper"}
}

func TestFacebookAdapter_Record(t *testing.T) {
	rec, ok := FacebookAdapter{}.Record(map[string]any{
		"postUrl": "https://www.facebook.com/groups/kielce/posts/1",
		"text":    "Sprzedam działkę 1200 m2",
		"image":   "https://scontent.xx.fbcdn.net/a.jpg",
		"likes":   float64(3),
	})
	if !ok {
		t.Fatal("expected post to be accepted")
	}
	if rec.Source != models.SourceFacebook {
		t.Fatalf("expected source facebook, got %s", rec.Source)
	}
	if rec.Title != "Sprzedam działkę 1200 m2" {
		t.Fatalf("unexpected title %q", rec.Title)
	}
	if len(rec.Images) != 1 {
		t.Fatalf("expected 1 image, got %v", rec.Images)
	}
	if _, ok := rec.Payload["image"]; ok {
		t.Fatal("expected images to be dropped from payload")
	}
	if rec.Payload["likes"] != float64(3) {
		t.Fatalf("expected other fields kept in payload, got %v", rec.Payload)
	}
}

func TestFacebookAdapter_LongTitle(t *testing.T) {
	text := "mieszkanie " + strings.Repeat("ą", 600)
	rec, ok := FacebookAdapter{}.Record(map[string]any{"url": "https://fb.test/p/1", "message": text})
	if !ok {
		t.Fatal("expected post to be accepted")
	}
	if got := len([]rune(rec.Title)); got != facebookTitleRunes+1 {
		t.Fatalf("expected %d runes with ellipsis, got %d", facebookTitleRunes+1, got)
	}
	if !strings.HasSuffix(rec.Title, "…") {
		t.Fatalf("expected ellipsis, got %q", rec.Title[len(rec.Title)-8:])
	}
	if rec.Description != text {
		t.Fatal("expected full text in description")
	}
}

func TestFacebookAdapter_Rejects(t *testing.T) {
	if _, ok := (FacebookAdapter{}).Record(map[string]any{"text": "Sprzedam dom"}); ok {
		t.Fatal("expected post without URL to be rejected")
	}
	if _, ok := (FacebookAdapter{}).Record(map[string]any{"url": "https://fb.test/p/2", "text": "Kto idzie na koncert?"}); ok {
		t.Fatal("expected post without sales keyword to be rejected")
	}
}

func TestGetDatasetAdapter(t *testing.T) {
	if _, err := GetDatasetAdapter(models.SourceFacebook); err != nil {
		t.Fatalf("expected facebook adapter, got %v", err)
	}
	if _, err := GetDatasetAdapter(models.SourceOLX); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
}

func TestDatasetHandler_Dataset(t *testing.T) {
	var gotPath, gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.URL.Query().Get("token")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(loadFixture(t, "facebook_dataset.json"))
	}))
	defer srv.Close()

	client := NewApifyClient(apifyConfig(srv.URL, "secret-token"), srv.Client())
	h, err := NewDatasetHandler(models.SourceFacebook, client, "ds123", zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	records, err := collect(t, h)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPath != "/datasets/ds123/items" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if gotToken != "secret-token" {
		t.Fatalf("expected token in query, got %q", gotToken)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 sales posts, got %d", len(records))
	}
	if records[0].URL != "https://www.facebook.com/groups/kielce/posts/1001" {
		t.Fatalf("unexpected URL %s", records[0].URL)
	}
	if len(records[0].Images) != 3 {
		t.Fatalf("expected 3 images, got %v", records[0].Images)
	}
	if records[1].Title != "Licytacja Dom do licytacji pod Kielcami" {
		t.Fatalf("unexpected title %q", records[1].Title)
	}
}

func TestDatasetHandler_LastRun(t *testing.T) {
	var gotPath, gotStatus string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotStatus = r.URL.Query().Get("status")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client := NewApifyClient(apifyConfig(srv.URL, "t"), srv.Client())
	h, err := NewDatasetHandler(models.SourceFacebook, client, "", zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := collect(t, h); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/acts/apify~facebook-groups-scraper/runs/last/dataset/items" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if gotStatus != "SUCCEEDED" {
		t.Fatalf("expected status filter, got %q", gotStatus)
	}
}

func TestDatasetHandler_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "dataset not found", http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewApifyClient(apifyConfig(srv.URL, "t"), srv.Client())
	h, _ := NewDatasetHandler(models.SourceFacebook, client, "missing", zap.NewNop())
	_, err := collect(t, h)
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected 404 error, got %v", err)
	}
}

func TestApifyClient_NotConfigured(t *testing.T) {
	var c *ApifyClient
	if c.Configured() {
		t.Fatal("expected nil client to be unconfigured")
	}
	c = NewApifyClient(config.ApifyConfig{}, nil)
	if _, err := c.DatasetItems(context.Background(), "x"); !errors.Is(err, ErrApifyNotConfigured) {
		t.Fatalf("expected ErrApifyNotConfigured, got %v", err)
	}
}
