package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"

	"github.com/nbnode/ledgerstore/ledger"
)

// fileConfig is the on-disk overlay for ledger.Options, named after the
// fields in SPEC_FULL's configuration table. Zero values mean "not set" and
// leave the corresponding ledger.Options default untouched.
type fileConfig struct {
	BlockChunkSize         uint64 `json:"block_chunk_size,omitempty"`         //nolint:tagliatelle
	SnapshotPeriodInBlocks uint64 `json:"snapshot_period_in_blocks,omitempty"` //nolint:tagliatelle
	FanoutDepth            int    `json:"fanout_depth,omitempty"`             //nolint:tagliatelle
	LockFilename           string `json:"lock_filename,omitempty"`            //nolint:tagliatelle
}

// configFileName is the project-local config file, read from the current
// working directory if present.
const configFileName = ".ledgerctl.json"

// loadFileConfig reads configFileName from workDir, tolerating a missing
// file (returns the zero fileConfig). The file is HUJSON (JSON with
// comments and trailing commas), standardized to JSON before parsing.
func loadFileConfig(workDir string) (fileConfig, error) {
	path := filepath.Join(workDir, configFileName)

	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		if os.IsNotExist(err) {
			return fileConfig{}, nil
		}

		return fileConfig{}, fmt.Errorf("read %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fileConfig{}, fmt.Errorf("%s: invalid HUJSON: %w", path, err)
	}

	var cfg fileConfig

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return fileConfig{}, fmt.Errorf("%s: invalid JSON: %w", path, err)
	}

	return cfg, nil
}

// applyTo overlays non-zero fields of cfg onto opts, returning the result.
// CLI flags are applied by the caller after this, so they always win.
func (cfg fileConfig) applyTo(opts ledger.Options) ledger.Options {
	if cfg.BlockChunkSize != 0 {
		opts.BlockChunkSize = cfg.BlockChunkSize
	}

	if cfg.SnapshotPeriodInBlocks != 0 {
		opts.SnapshotPeriodInBlocks = cfg.SnapshotPeriodInBlocks
	}

	if cfg.FanoutDepth != 0 {
		opts.FanoutDepth = cfg.FanoutDepth
	}

	if cfg.LockFilename != "" {
		opts.LockFilename = cfg.LockFilename
	}

	return opts
}
