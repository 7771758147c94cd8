// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/netip"
	"os"

	"github.com/charmbracelet/log"

	"ipasn/pkg/iptoasn"
	"ipasn/pkg/model"
	"ipasn/pkg/sources/maxmind"
	"ipasn/pkg/util/envconf"
	"ipasn/pkg/util/ipcodec"
)

const version = "1.0.0"

type Config struct {
	v4File      string
	v6File      string
	dbPath      string
	mmdbASN     string
	mmdbCountry string
	json        bool
	verbose     bool
	showVersion bool
}

func parseFlags(args []string) (*Config, []string) {
	fs := flag.NewFlagSet("ipasn-lookup", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: ipasn-lookup [options] <ip>\n\nOptions:\n")
		fs.PrintDefaults()
	}

	cfg := &Config{}
	fs.StringVar(&cfg.v4File, "v4", envconf.String(envconf.V4File, "ip2asn-v4.tsv"), "IPv4 range table (TSV, optionally .gz)")
	fs.StringVar(&cfg.v6File, "v6", envconf.String(envconf.V6File, "ip2asn-v6.tsv"), "IPv6 range table (TSV, optionally .gz)")
	fs.StringVar(&cfg.dbPath, "db", envconf.String(envconf.DB, ""), "Read ranges from a built database instead of TSV files")
	fs.StringVar(&cfg.mmdbASN, "mmdb-asn", envconf.String(envconf.MMDBASN, ""), "GeoLite2-ASN database for a cross-check")
	fs.StringVar(&cfg.mmdbCountry, "mmdb-country", envconf.String(envconf.MMDBCountry, ""), "GeoLite2-Country database (with --mmdb-asn)")
	fs.BoolVar(&cfg.json, "json", false, "Output as JSON")
	fs.BoolVar(&cfg.verbose, "verbose", false, "Debug logging")
	fs.BoolVar(&cfg.showVersion, "version", false, "Show version")

	fs.Parse(args)
	return cfg, fs.Args()
}

func main() {
	envconf.Load()
	cfg, args := parseFlags(os.Args[1:])

	if cfg.showVersion {
		fmt.Printf("ipasn-lookup version %s\n", version)
		return
	}
	if cfg.verbose {
		log.SetLevel(log.DebugLevel)
	}
	if len(args) != 1 {
		fmt.Fprintf(os.Stderr, "Usage: ipasn-lookup [options] <ip>\n")
		os.Exit(1)
	}

	ip, err := ipcodec.ParseIP(args[0])
	if err != nil {
		log.Error("Invalid IP address", "input", args[0], "err", err)
		os.Exit(1)
	}

	ctx := context.Background()
	table, err := loadTable(ctx, cfg, model.FamilyOf(ip))
	if err != nil {
		log.Fatal("Could not load range table", "family", model.FamilyOf(ip), "err", err)
	}

	r, found := table.Lookup(ip)
	res := model.NewLookupResult(ip, r, found)

	if cfg.mmdbASN != "" {
		crossCheck(cfg, ip, r, found, res)
	}

	if err := render(os.Stdout, res, cfg.json); err != nil {
		log.Fatal("Failed to write result", "err", err)
	}
	if !found {
		os.Exit(1)
	}
}

// loadTable loads the range table for one family, from the database when
// --db is set and from the family's TSV file otherwise
func loadTable(ctx context.Context, cfg *Config, family model.Family) (*iptoasn.Table, error) {
	if cfg.dbPath != "" {
		store, err := iptoasn.OpenStore(cfg.dbPath)
		if err != nil {
			return nil, err
		}
		defer store.Close()

		log.Debug("Loading ranges from database", "path", cfg.dbPath, "family", family)
		return store.LoadTable(ctx, family)
	}

	path := cfg.v4File
	if family == model.FamilyV6 {
		path = cfg.v6File
	}

	log.Debug("Loading ranges", "path", path, "family", family)
	skipped := 0
	table, err := iptoasn.LoadFile(path, family, func(err error) {
		skipped++
		log.Warn("Skipping record", "err", err)
	})
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		log.Info("Loaded range table", "ranges", table.Len(), "skipped", skipped)
	}
	if err := table.CheckOrder(); err != nil {
		log.Warn("Range table is not ordered, lookups may miss", "err", err)
	}

	return table, nil
}

// crossCheck attaches the MaxMind answer to res and warns when it disagrees
func crossCheck(cfg *Config, ip netip.Addr, r model.IPRange, found bool, res *model.LookupResult) {
	reader, err := maxmind.Open(cfg.mmdbASN, cfg.mmdbCountry)
	if err != nil {
		log.Warn("MaxMind cross-check unavailable", "err", err)
		return
	}
	defer reader.Close()

	info, ok, err := reader.Lookup(ip)
	if err != nil {
		log.Warn("MaxMind lookup failed", "err", err)
		return
	}
	if ok {
		res.MaxMind = info
	}
	if !maxmind.Agrees(info, r, found) {
		log.Warn("MaxMind disagrees", "ip", res.IP, "table_asn", res.ASN, "maxmind", info)
	}
}

func render(w io.Writer, res *model.LookupResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	if !res.Found {
		_, err := fmt.Fprintf(w, "Could not find ASN for %s\n", res.IP)
		return err
	}

	if _, err := fmt.Fprintf(w, "%s found!\nnumber(%d)|country(%s)|description(%s)\n",
		res.IP, res.ASN, res.Country, res.Description); err != nil {
		return err
	}
	if res.MaxMind != nil {
		_, err := fmt.Fprintf(w, "maxmind: number(%d)|network(%s)|country(%s)|organization(%s)\n",
			res.MaxMind.ASN, res.MaxMind.Network, res.MaxMind.Country, res.MaxMind.Organization)
		return err
	}
	return nil
}
