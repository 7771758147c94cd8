// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Mark Feghali

// Package envconf supplies flag defaults from the environment and an optional .env file.
package envconf

import (
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
)

// Environment variables understood by the ipasn commands
const (
	V4File         = "IPASN_V4_FILE"
	V6File         = "IPASN_V6_FILE"
	DB             = "IPASN_DB"
	CacheDir       = "IPASN_CACHE_DIR"
	MMDBASN        = "IPASN_MMDB_ASN"
	MMDBCountry    = "IPASN_MMDB_COUNTRY"
	Workers        = "IPASN_WORKERS"
	defaultEnvFile = ".env"
)

// Load reads .env (or the given files) into the process environment.
// Variables already set are never overridden. A missing file is not an error.
func Load(files ...string) {
	if len(files) == 0 {
		files = []string{defaultEnvFile}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			log.Debug("No env file loaded, using system environment", "file", f, "err", err)
		}
	}
}

// String returns the value of key, or def when unset or blank
func String(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// Int returns the integer value of key, or def when unset or not a number
func Int(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn("Ignoring non-numeric environment value", "key", key, "value", v)
		return def
	}
	return n
}
