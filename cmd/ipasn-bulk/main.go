// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"ipasn/pkg/iptoasn"
	"ipasn/pkg/model"
	"ipasn/pkg/util/envconf"
	"ipasn/pkg/util/ipcodec"
	"ipasn/pkg/util/workers"
)

const version = "1.0.0"

func main() {
	envconf.Load()

	dbPath := flag.String("db", envconf.String(envconf.DB, ""), "Database built by ipasn-build")
	v4File := flag.String("v4", envconf.String(envconf.V4File, "ip2asn-v4.tsv"), "IPv4 range table when --db is not set")
	v6File := flag.String("v6", envconf.String(envconf.V6File, "ip2asn-v6.tsv"), "IPv6 range table when --db is not set")
	inputFile := flag.String("input", "", "Input file (one IP per line, default: stdin)")
	outputFile := flag.String("output", "", "Output file (JSONL format, default: stdout)")
	workerCount := flag.Int("workers", envconf.Int(envconf.Workers, 10), "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Debug logging")
	showVersion := flag.Bool("version", false, "Show version")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ipasn-bulk version %s\n", version)
		return
	}
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	// Setup input
	var input io.Reader = os.Stdin
	if *inputFile == "" {
		log.Info("Reading from stdin (one IP per line)")
	} else {
		f, err := os.Open(*inputFile)
		if err != nil {
			log.Fatal("Failed to open input file", "err", err)
		}
		defer f.Close()
		input = f
		log.Info("Reading input", "path", *inputFile)
	}

	// Setup output
	var output io.Writer = os.Stdout
	if *outputFile != "" {
		f, err := os.Create(*outputFile)
		if err != nil {
			log.Fatal("Failed to create output file", "err", err)
		}
		defer f.Close()
		output = f
		log.Info("Writing output", "path", *outputFile)
	}

	ips, err := readInputs(input)
	if err != nil {
		log.Fatal("Failed to read input", "err", err)
	}

	src := &tableSource{dbPath: *dbPath, v4File: *v4File, v6File: *v6File}
	log.Info("Processing", "ips", humanize.Comma(int64(len(ips))), "workers", *workerCount)

	results, summary := lookupAll(context.Background(), src, ips, *workerCount)

	w := bufio.NewWriter(output)
	enc := json.NewEncoder(w)
	for _, res := range results {
		if err := enc.Encode(res); err != nil {
			log.Error("Failed to write JSON", "err", err)
		}
	}
	if err := w.Flush(); err != nil {
		log.Fatal("Failed to flush output", "err", err)
	}

	log.Info("Done",
		"processed", humanize.Comma(summary.processed),
		"found", humanize.Comma(summary.found.Load()),
		"not_found", humanize.Comma(summary.notFound.Load()),
		"errors", humanize.Comma(summary.errors.Load()))
}

// readInputs returns the non-blank, non-comment lines of r
func readInputs(r io.Reader) ([]string, error) {
	var ips []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ips = append(ips, line)
	}
	return ips, scanner.Err()
}

type summary struct {
	processed int64
	found     atomic.Int64
	notFound  atomic.Int64
	errors    atomic.Int64
}

// lookupAll resolves every input concurrently. Results keep input order.
func lookupAll(ctx context.Context, src *tableSource, ips []string, workerCount int) ([]*model.LookupResult, *summary) {
	pool := workers.NewPool(ctx, workers.Config{
		Workers:   workerCount,
		RateLimit: 0, // No rate limit for local lookups
	})

	results := make([]*model.LookupResult, len(ips))
	sum := &summary{processed: int64(len(ips))}

	for i, input := range ips {
		input := input
		pool.Submit(i, func(ctx context.Context, idx int) error {
			results[idx] = lookupOne(ctx, src, input, sum)
			return nil
		})
	}
	pool.Wait()

	return results, sum
}

func lookupOne(ctx context.Context, src *tableSource, input string, sum *summary) *model.LookupResult {
	ip, err := ipcodec.ParseIP(input)
	if err != nil {
		sum.errors.Add(1)
		return &model.LookupResult{IP: input, Error: err.Error()}
	}

	table, err := src.table(ctx, model.FamilyOf(ip))
	if err != nil {
		sum.errors.Add(1)
		res := model.NewLookupResult(ip, model.IPRange{}, false)
		res.Error = err.Error()
		return res
	}

	r, found := table.Lookup(ip)
	res := model.NewLookupResult(ip, r, found)
	if found {
		sum.found.Add(1)
	} else {
		sum.notFound.Add(1)
		res.Error = model.ErrNotFound.Error()
	}
	return res
}

// tableSource loads each family's table at most once, on first use
type tableSource struct {
	dbPath string
	v4File string
	v6File string

	mu     sync.Mutex
	loaded map[model.Family]*iptoasn.Table
	errs   map[model.Family]error
}

func (s *tableSource) table(ctx context.Context, family model.Family) (*iptoasn.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.loaded[family]; ok {
		return t, nil
	}
	if err, ok := s.errs[family]; ok {
		return nil, err
	}
	if s.loaded == nil {
		s.loaded = make(map[model.Family]*iptoasn.Table)
		s.errs = make(map[model.Family]error)
	}

	t, err := s.load(ctx, family)
	if err != nil {
		s.errs[family] = err
		log.Error("Could not load range table", "family", family, "err", err)
		return nil, err
	}
	s.loaded[family] = t
	return t, nil
}

func (s *tableSource) load(ctx context.Context, family model.Family) (*iptoasn.Table, error) {
	if s.dbPath != "" {
		store, err := iptoasn.OpenStore(s.dbPath)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		return store.LoadTable(ctx, family)
	}

	path := s.v4File
	if family == model.FamilyV6 {
		path = s.v6File
	}
	if path == "" {
		return nil, fmt.Errorf("%w: no %s table configured", model.ErrSourceUnavailable, family)
	}

	var skipped int
	table, err := iptoasn.LoadFile(path, family, func(err error) {
		skipped++
		log.Warn("Skipping record", "err", err)
	})
	if err != nil {
		return nil, err
	}
	log.Info("Loaded range table", "family", family, "ranges", humanize.Comma(int64(table.Len())), "skipped", skipped)
	return table, nil
}
