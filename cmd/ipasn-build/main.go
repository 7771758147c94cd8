// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"ipasn/pkg/iptoasn"
	"ipasn/pkg/model"
	"ipasn/pkg/util/envconf"
)

const version = "1.0.0"

func main() {
	envconf.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch cmd := os.Args[1]; cmd {
	case "fetch":
		err = runFetch(parseFlags(os.Args[2:]))
	case "build":
		err = runBuild(parseFlags(os.Args[2:]))
	case "all":
		cfg := parseFlags(os.Args[2:])
		if !cfg.skipDownload {
			err = runFetch(cfg)
		}
		if err == nil {
			err = runBuild(cfg)
		}
	case "stats":
		err = runStats(parseFlags(os.Args[2:]))
	case "--version", "version":
		fmt.Printf("ipasn-build version %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		log.Fatal("Command failed", "cmd", os.Args[1], "err", err)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: ipasn-build <command> [options]

Commands:
  fetch   Download ip2asn dumps if changed (ETag/Last-Modified)
  build   Parse cached dumps (or --v4/--v6 files) into the database
  all     Fetch + build (default workflow)
  stats   Show database statistics

Options:
  --db=<path>           Database path (default: ./ipasndb, env IPASN_DB)
  --url=<url>           Base URL (default: https://iptoasn.com/data)
  --cache-dir=<path>    Cache directory (default: ./cache/ipasn, env IPASN_CACHE_DIR)
  --family=<f>          v4, v6 or all (default: all)
  --v4=<path>           Build IPv4 from this TSV instead of the cache
  --v6=<path>           Build IPv6 from this TSV instead of the cache
  --skip-download       Skip download in "all", use cached files
  --workers=<n>         Concurrent downloads (default: 2, env IPASN_WORKERS)
  --verbose             Debug logging

Examples:
  # Fetch + build in one step
  ipasn-build all --db=./data/ipasndb

  # Build IPv4 only from a local file
  ipasn-build build --family=v4 --v4=./ip2asn-v4.tsv

  # Show stats
  ipasn-build stats --db=./data/ipasndb
`)
}

type Config struct {
	dbPath       string
	baseURL      string
	cacheDir     string
	family       string
	v4File       string
	v6File       string
	skipDownload bool
	workers      int
	verbose      bool
}

func parseFlags(args []string) *Config {
	fs := flag.NewFlagSet("ipasn-build", flag.ExitOnError)

	cfg := &Config{}
	fs.StringVar(&cfg.dbPath, "db", envconf.String(envconf.DB, "./ipasndb"), "Database path")
	fs.StringVar(&cfg.baseURL, "url", iptoasn.DefaultBaseURL, "Base URL of the ip2asn dumps")
	fs.StringVar(&cfg.cacheDir, "cache-dir", envconf.String(envconf.CacheDir, "./cache/ipasn"), "Cache directory")
	fs.StringVar(&cfg.family, "family", "all", "Address family: v4, v6 or all")
	fs.StringVar(&cfg.v4File, "v4", envconf.String(envconf.V4File, ""), "Local IPv4 TSV (skips the cache)")
	fs.StringVar(&cfg.v6File, "v6", envconf.String(envconf.V6File, ""), "Local IPv6 TSV (skips the cache)")
	fs.BoolVar(&cfg.skipDownload, "skip-download", false, "Skip download, use cached files")
	fs.IntVar(&cfg.workers, "workers", envconf.Int(envconf.Workers, 2), "Concurrent downloads")
	fs.BoolVar(&cfg.verbose, "verbose", false, "Debug logging")

	fs.Parse(args)

	if cfg.verbose {
		log.SetLevel(log.DebugLevel)
	}
	return cfg
}

// families returns the families selected by --family
func (c *Config) families() ([]model.Family, error) {
	switch c.family {
	case "v4":
		return []model.Family{model.FamilyV4}, nil
	case "v6":
		return []model.Family{model.FamilyV6}, nil
	case "all", "":
		return []model.Family{model.FamilyV4, model.FamilyV6}, nil
	default:
		return nil, fmt.Errorf("unknown family %q", c.family)
	}
}

func runFetch(cfg *Config) error {
	families, err := cfg.families()
	if err != nil {
		return err
	}

	b := NewBuilder(cfg)
	metas, err := b.FetchAll(context.Background(), families)
	if err != nil {
		return err
	}

	for _, meta := range metas {
		log.Info("Fetch complete",
			"url", meta.SourceURL,
			"path", meta.CachePath,
			"etag", meta.ETag,
			"last_modified", meta.LastModified.Format(time.RFC3339))
	}
	return nil
}

func runBuild(cfg *Config) error {
	families, err := cfg.families()
	if err != nil {
		return err
	}

	b := NewBuilder(cfg)
	log.Info("Building database", "path", cfg.dbPath)
	stats, err := b.Build(context.Background(), families)
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	fmt.Printf("\nBuild Summary:\n")
	printStats(stats)
	return nil
}

func runStats(cfg *Config) error {
	store, err := iptoasn.OpenStore(cfg.dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	stats, err := store.GetStats()
	if errors.Is(err, model.ErrNotFound) {
		log.Info("No statistics found in database", "path", cfg.dbPath)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	fmt.Printf("IP-to-ASN Database Statistics\n")
	fmt.Printf("=============================\n\n")
	printStats(stats)
	return nil
}

func printStats(stats *model.Stats) {
	for _, fam := range []struct {
		name string
		fs   *model.FamilyStats
	}{{"IPv4", stats.V4}, {"IPv6", stats.V6}} {
		if fam.fs == nil {
			continue
		}
		fmt.Printf("%s:\n", fam.name)
		fmt.Printf("  Ranges:            %s\n", humanize.Comma(fam.fs.Ranges))
		fmt.Printf("  Unassigned ranges: %s\n", humanize.Comma(fam.fs.Unassigned))
		fmt.Printf("  Unique ASNs:       %s\n", humanize.Comma(int64(fam.fs.UniqueASNs)))
		fmt.Printf("  Addresses:         %s\n", fam.fs.Addresses)
		fmt.Printf("  Countries:         %d\n", len(fam.fs.ByCountry))

		countries := topCountries(fam.fs.ByCountry, 5)
		for _, c := range countries {
			fmt.Printf("    %-6s %s\n", c, humanize.Comma(fam.fs.ByCountry[c]))
		}
	}

	fmt.Printf("Skipped records:     %s\n", humanize.Comma(stats.Skipped))
	if stats.SourceURL != "" {
		fmt.Printf("Source:              %s\n", stats.SourceURL)
	}
	fmt.Printf("Built at:            %s (%s)\n", stats.BuiltAt.Format(time.RFC3339), humanize.Time(stats.BuiltAt))
}

// topCountries returns up to n country codes ordered by range count
func topCountries(byCountry map[string]int64, n int) []string {
	codes := make([]string, 0, len(byCountry))
	for c := range byCountry {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool {
		if byCountry[codes[i]] != byCountry[codes[j]] {
			return byCountry[codes[i]] > byCountry[codes[j]]
		}
		return codes[i] < codes[j]
	})
	if len(codes) > n {
		codes = codes[:n]
	}
	return codes
}
