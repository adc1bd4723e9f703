package models

import (
	"encoding/json"
	"time"
)

// Listing is the canonical ingested entity, unique by SourceURL.
type Listing struct {
	Source          Source          `json:"source" db:"source"`
	SourceURL       string          `json:"source_url" db:"source_url"`
	Title           string          `json:"title" db:"title"`
	Description     *string         `json:"description" db:"description"`
	PriceMinorUnits *int64          `json:"price_pln" db:"price_pln"` // grosze
	Location        string          `json:"location" db:"location"`
	City            string          `json:"city" db:"city"`
	Region          *string         `json:"region" db:"region"`
	AuctionDate     *time.Time      `json:"auction_date" db:"auction_date"`
	Images          []string        `json:"images" db:"images"`
	RawPayload      json.RawMessage `json:"raw_data" db:"raw_data"`

	// Written by the ingestion core.
	LastSeenAt          *time.Time `json:"last_seen_at" db:"last_seen_at"`
	RemovedFromSourceAt *time.Time `json:"removed_from_source_at" db:"removed_from_source_at"`

	// Owned by the dashboard; read back but never written on upsert.
	Status   *string `json:"status,omitempty" db:"status"`
	Notified bool    `json:"notified" db:"notified"`
}

// RawRecord is the per-item field set an adapter extracts before normalization.
type RawRecord struct {
	Source      Source         `json:"source"`
	URL         string         `json:"url"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Price       string         `json:"price,omitempty"`
	Location    string         `json:"location,omitempty"`
	City        string         `json:"city,omitempty"`
	Region      string         `json:"region,omitempty"`
	Date        string         `json:"date,omitempty"`
	Images      []string       `json:"images,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}
