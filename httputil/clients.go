package httputil

import (
	"net/http"
	"time"
)

type Clients struct {
	Scraping *http.Client // target sites; fetch-level timeout, redirects followed
	API      *http.Client // Apify, Supabase
}

func NewClients(fetchTimeout time.Duration) *Clients {
	if fetchTimeout <= 0 {
		fetchTimeout = DefaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 4

	return &Clients{
		Scraping: &http.Client{
			Timeout:   fetchTimeout,
			Transport: transport,
		},
		API: &http.Client{Timeout: 30 * time.Second},
	}
}
