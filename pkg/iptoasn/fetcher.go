// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package iptoasn

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cavaliergopher/grab/v3"
	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"ipasn/pkg/model"
	"ipasn/pkg/util/workers"
)

const (
	DefaultBaseURL   = "https://iptoasn.com/data"
	DefaultUserAgent = "ipasn-fetcher/0.1"
)

// SourceFile returns the iptoasn.com file name for a family
func SourceFile(family model.Family) string {
	return fmt.Sprintf("ip2asn-%s.tsv.gz", family)
}

// Fetcher downloads the per-family ip2asn dumps with ETag/Last-Modified support
type Fetcher struct {
	client   *grab.Client
	baseURL  string
	cacheDir string
	retry    workers.RetryConfig
}

// NewFetcher creates a new fetcher instance
func NewFetcher(baseURL, cacheDir string) *Fetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	client := grab.NewClient()
	client.UserAgent = DefaultUserAgent
	return &Fetcher{
		client:   client,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		cacheDir: cacheDir,
		retry:    workers.DefaultRetryConfig(),
	}
}

// SetRetry overrides the retry policy
func (f *Fetcher) SetRetry(cfg workers.RetryConfig) {
	f.retry = cfg
}

// URL returns the source URL for a family
func (f *Fetcher) URL(family model.Family) string {
	return f.baseURL + "/" + SourceFile(family)
}

func (f *Fetcher) metadataPath(family model.Family) string {
	return filepath.Join(f.cacheDir, fmt.Sprintf("metadata-%s.json", family))
}

// CachedMetadata returns the metadata of the last successful fetch for a family
func (f *Fetcher) CachedMetadata(family model.Family) (*model.FetchMetadata, error) {
	data, err := os.ReadFile(f.metadataPath(family))
	if err != nil {
		return nil, fmt.Errorf("%w: no cached %s download: %w", model.ErrSourceUnavailable, family, err)
	}
	var meta model.FetchMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return &meta, nil
}

// Fetch downloads the family's dump if it changed since the last fetch.
// It returns the metadata describing the cached file.
func (f *Fetcher) Fetch(ctx context.Context, family model.Family) (*model.FetchMetadata, error) {
	if err := os.MkdirAll(f.cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	existing, _ := f.CachedMetadata(family)
	sourceURL := f.URL(family)

	timestamp := time.Now().Format("20060102-150405")
	cachePath := filepath.Join(f.cacheDir, fmt.Sprintf("ip2asn-%s-%s.tsv.gz", family, timestamp))
	tempPath := cachePath + ".tmp"
	defer os.Remove(tempPath)

	var resp *grab.Response
	notModified := false

	err := workers.Retry(ctx, f.retry, func() error {
		req, err := grab.NewRequest(tempPath, sourceURL)
		if err != nil {
			return workers.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req = req.WithContext(ctx)
		req.NoResume = true
		if existing != nil {
			if existing.ETag != "" {
				req.HTTPRequest.Header.Set("If-None-Match", existing.ETag)
			}
			if !existing.LastModified.IsZero() {
				req.HTTPRequest.Header.Set("If-Modified-Since", existing.LastModified.Format(http.TimeFormat))
			}
		}

		resp = f.client.Do(req)
		err = resp.Err()
		if resp.HTTPResponse != nil && resp.HTTPResponse.StatusCode == http.StatusNotModified {
			notModified = true
			return nil
		}
		if err == nil {
			return nil
		}
		if resp.HTTPResponse != nil && resp.HTTPResponse.StatusCode >= 400 && resp.HTTPResponse.StatusCode < 500 {
			return workers.Permanent(fmt.Errorf("unexpected status code: %d", resp.HTTPResponse.StatusCode))
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %w", model.ErrSourceUnavailable, sourceURL, err)
	}

	if notModified && existing != nil {
		log.Info("Data unchanged, using cached file", "family", family, "path", existing.CachePath)
		return existing, nil
	}

	if err := os.Rename(tempPath, cachePath); err != nil {
		return nil, fmt.Errorf("failed to rename temp file: %w", err)
	}
	log.Info("Downloaded", "family", family, "size", humanize.Bytes(uint64(resp.BytesComplete())), "path", cachePath)

	var lastModified time.Time
	if lm := resp.HTTPResponse.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			lastModified = t
		}
	}

	meta := &model.FetchMetadata{
		SourceURL:    sourceURL,
		ETag:         resp.HTTPResponse.Header.Get("ETag"),
		LastModified: lastModified,
		CachePath:    cachePath,
		FetchedAt:    time.Now(),
	}

	if data, err := json.MarshalIndent(meta, "", "  "); err == nil {
		if err := os.WriteFile(f.metadataPath(family), data, 0644); err != nil {
			log.Warn("Failed to save fetch metadata", "err", err)
		}
	}

	return meta, nil
}

// LoadCached builds a table from the family's most recent cached download
func (f *Fetcher) LoadCached(family model.Family, onSkip SkipFunc) (*Table, *model.FetchMetadata, error) {
	meta, err := f.CachedMetadata(family)
	if err != nil {
		return nil, nil, err
	}
	t, err := LoadFile(meta.CachePath, family, onSkip)
	if err != nil {
		return nil, nil, err
	}
	return t, meta, nil
}
