// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"ipasn/pkg/iptoasn"
	"ipasn/pkg/model"
	"ipasn/pkg/util/workers"
)

// fetchRate bounds download starts per second against the upstream host
const fetchRate = 1

// Builder coordinates the fetch and build process
type Builder struct {
	cfg     *Config
	fetcher *iptoasn.Fetcher
}

// NewBuilder creates a new builder
func NewBuilder(cfg *Config) *Builder {
	return &Builder{
		cfg:     cfg,
		fetcher: iptoasn.NewFetcher(cfg.baseURL, cfg.cacheDir),
	}
}

// FetchAll downloads the dumps for families concurrently.
// Metadata is returned in the order of families.
func (b *Builder) FetchAll(ctx context.Context, families []model.Family) ([]*model.FetchMetadata, error) {
	pool := workers.NewPool(ctx, workers.Config{
		Workers:   b.cfg.workers,
		RateLimit: fetchRate,
		BurstSize: len(families),
	})

	metas := make([]*model.FetchMetadata, len(families))
	for i, family := range families {
		family := family
		log.Info("Fetching", "url", b.fetcher.URL(family))
		pool.Submit(i, func(ctx context.Context, idx int) error {
			meta, err := b.fetcher.Fetch(ctx, family)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", family, err)
			}
			metas[idx] = meta
			return nil
		})
	}

	var errs []error
	for _, res := range pool.Wait() {
		if res.Error != nil {
			errs = append(errs, res.Error)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return metas, nil
}

// Build parses each family and writes it to the database, then refreshes
// the stored statistics. Nothing is written if any family's ranges are
// unsorted or overlapping.
func (b *Builder) Build(ctx context.Context, families []model.Family) (*model.Stats, error) {
	startTime := time.Now()

	tables := &iptoasn.Tables{}
	var skipped int64
	var sources []string

	for _, family := range families {
		table, source, n, err := b.loadFamily(family)
		if err != nil {
			return nil, err
		}
		skipped += n
		sources = append(sources, source)

		// The snapshot is keyed by start address and would reorder the input
		if err := table.CheckOrder(); err != nil {
			return nil, fmt.Errorf("%s source %s: %w", family, source, err)
		}
		log.Info("Parsed ranges", "family", family, "ranges", humanize.Comma(int64(table.Len())), "skipped", n)

		if family == model.FamilyV4 {
			tables.V4 = table
		} else {
			tables.V6 = table
		}
	}

	store, err := iptoasn.OpenStore(b.cfg.dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	for _, table := range []*iptoasn.Table{tables.V4, tables.V6} {
		if table == nil {
			continue
		}
		if err := store.WriteTable(table); err != nil {
			return nil, fmt.Errorf("failed to write %s ranges: %w", table.Family(), err)
		}
	}

	// Families not rebuilt this run keep their previous snapshot; include them in the totals
	if tables.V4 == nil {
		tables.V4 = b.loadStored(ctx, store, model.FamilyV4)
	}
	if tables.V6 == nil {
		tables.V6 = b.loadStored(ctx, store, model.FamilyV6)
	}

	stats := iptoasn.ComputeStats(tables, skipped)
	stats.SourceURL = strings.Join(sources, ", ")

	for i, family := range families {
		if err := store.SetMetadata("source_"+family.String(), sources[i]); err != nil {
			log.Warn("Failed to set source metadata", "family", family, "err", err)
		}
	}
	if err := store.SetMetadata("built_at", stats.BuiltAt.Format(time.RFC3339)); err != nil {
		log.Warn("Failed to set built_at metadata", "err", err)
	}
	if err := store.SetMetadata("version", version); err != nil {
		log.Warn("Failed to set version metadata", "err", err)
	}
	if err := store.SetStats(stats); err != nil {
		log.Warn("Failed to set stats", "err", err)
	}

	log.Info("Build completed", "duration", time.Since(startTime).Round(time.Millisecond))
	return stats, nil
}

// loadFamily parses one family from its local override file or the download cache.
// It returns the table, where it came from and how many records were skipped.
func (b *Builder) loadFamily(family model.Family) (*iptoasn.Table, string, int64, error) {
	var skipped int64
	onSkip := func(err error) {
		skipped++
		log.Debug("Skipping record", "family", family, "err", err)
	}

	local := b.cfg.v4File
	if family == model.FamilyV6 {
		local = b.cfg.v6File
	}

	if local != "" {
		log.Info("Parsing local file", "family", family, "path", local)
		table, err := iptoasn.LoadFile(local, family, onSkip)
		if err != nil {
			return nil, "", 0, fmt.Errorf("failed to load %s: %w", local, err)
		}
		return table, local, skipped, nil
	}

	table, meta, err := b.fetcher.LoadCached(family, onSkip)
	if err != nil {
		return nil, "", 0, fmt.Errorf("failed to load cached %s data (did you run fetch first?): %w", family, err)
	}
	log.Info("Parsed cached file", "family", family, "path", meta.CachePath)
	return table, meta.SourceURL, skipped, nil
}

func (b *Builder) loadStored(ctx context.Context, store *iptoasn.Store, family model.Family) *iptoasn.Table {
	table, err := store.LoadTable(ctx, family)
	if err != nil {
		log.Warn("Failed to read existing ranges", "family", family, "err", err)
		return nil
	}
	if table.Len() == 0 {
		return nil
	}
	return table
}
