// Copyright 2025 Condor Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/condorlabs/dteingest/core"
	"github.com/condorlabs/dteingest/extract"
	"github.com/condorlabs/dteingest/storage"
)

// AuditLogName is the duplicate-audit file created next to the input
// directory (in its parent), so successive runs over the same directory
// append to one trail.
const AuditLogName = "duplicates.log"

// Config carries the parameters of one ingestion run.
type Config struct {
	// SourceDir is the directory holding the invoice documents.
	SourceDir string

	// BatchSize is a sizing hint carried in the configuration. Chunking
	// is currently driven by the processing-unit count, not this value.
	BatchSize int

	// MaxRetries caps store-operation attempts. It is consumed where the
	// store client is constructed; the coordinator itself does not retry.
	MaxRetries int

	// CurrentMonthOnly restricts ingestion to documents of the current
	// calendar month. Declared but not enforced by the run flow.
	CurrentMonthOnly bool

	// Workers overrides the worker-unit count. Zero selects the default
	// of available processing units minus one, with a minimum of one.
	Workers int
}

// Coordinator drives one batch ingestion run end to end.
type Coordinator struct {
	store  storage.Store
	config Config
	logger *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets a custom logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCoordinator creates a coordinator over the given store.
func NewCoordinator(store storage.Store, config Config, opts ...Option) (*Coordinator, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if config.SourceDir == "" {
		return nil, ErrSourceDirRequired
	}

	c := &Coordinator{
		store:  store,
		config: config,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run executes the ingestion: enumerate, extract in parallel, deduplicate,
// persist, register processed files, and report statistics.
//
// The returned stats are meaningful even when err is non-nil: counters
// accumulated before the fatal step are preserved. Business facts persisted
// before a later failure are never retracted.
func (c *Coordinator) Run(ctx context.Context) (core.RunStats, error) {
	var stats core.RunStats

	c.logger.Info("processing invoice documents", "dir", c.config.SourceDir)

	// Step 1: enumerate the directory snapshot. Entries without the
	// document extension are counted, never opened.
	paths, nonDocuments, err := listDocuments(c.config.SourceDir)
	if err != nil {
		return stats, fmt.Errorf("failed to list source directory: %w", err)
	}
	stats.TotalFiles = len(paths)
	stats.NonXML = nonDocuments
	c.logger.Info("found documents", "count", len(paths), "other", nonDocuments)

	audit, err := OpenAuditLog(filepath.Join(filepath.Dir(c.config.SourceDir), AuditLogName))
	if err != nil {
		return stats, err
	}
	defer audit.Close()

	extractor, err := extract.NewExtractor(nil, c.store, c.logger)
	if err != nil {
		return stats, err
	}

	// Step 2: fan out to the worker pool.
	size := c.config.Workers
	if size <= 0 {
		size = defaultPoolSize()
	}
	workers := &pool{
		size:      size,
		extractor: extractor,
		ledger:    c.store,
		logger:    c.logger,
	}
	extracted, err := workers.process(ctx, paths)
	if err != nil {
		return stats, fmt.Errorf("worker pool failed: %w", err)
	}
	stats.AlreadyProcessed = len(extracted.skipped)
	stats.ProcessingErrors += len(extracted.failed)
	c.logger.Info("extracted records", "count", len(extracted.items), "includingDuplicates", true)

	// Step 3: reconcile to one record per business key.
	deduped, duplicates := Deduplicate(extracted.items, audit)
	stats.DuplicateItems = duplicates
	c.logger.Info("deduplicated records",
		"unique", len(deduped), "duplicates", duplicates)

	// Step 4: one idempotent batch write. Failure here is fatal.
	if err := c.store.UpsertBatch(ctx, deduped); err != nil {
		stats.ProcessingErrors++
		return stats, fmt.Errorf("failed to persist record batch: %w", err)
	}
	stats.Success = len(deduped)

	// Step 5: register contributing files in the ledger. Failure here is
	// recovered: the facts are already persisted and the upsert makes the
	// next run converge.
	c.registerProcessedFiles(ctx, paths, extracted, &stats)

	return stats, nil
}

// registerProcessedFiles fingerprints every file that contributed at least
// one surviving record and registers it in the ledger. Files contributing
// zero records stay unregistered so a later run (with, say, a wider
// allow-list) can pick them up.
func (c *Coordinator) registerProcessedFiles(ctx context.Context, paths []string, extracted poolResult, stats *core.RunStats) {
	contributed := make(map[string]bool, len(paths))
	for i := range extracted.items {
		contributed[extracted.items[i].SourceFile] = true
	}
	handled := make(map[string]bool, len(extracted.skipped)+len(extracted.failed))
	for _, filename := range extracted.skipped {
		handled[filename] = true
	}
	for _, filename := range extracted.failed {
		handled[filename] = true
	}

	now := time.Now().UTC()
	rows := make([]core.ProcessedFile, 0, len(contributed))
	for _, path := range paths {
		filename := filepath.Base(path)
		if !contributed[filename] {
			// Parsed fine, nothing admitted: stays eligible for
			// re-processing on a later run.
			if !handled[filename] {
				c.logger.Info("file contributed no admitted records", "file", filename)
				stats.NoValidInfo++
			}
			continue
		}

		content, err := os.ReadFile(path)
		if err != nil {
			c.logger.Error("failed to fingerprint file", "file", filename, "error", err)
			stats.HashErrors++
			continue
		}

		rows = append(rows, core.ProcessedFile{
			Filename:    filename,
			ContentHash: core.Fingerprint(content),
			CreatedAt:   now,
			Status:      core.ProcessedFileStatusSuccess,
		})
	}

	if len(rows) == 0 {
		return
	}

	if err := c.store.RegisterBatch(ctx, rows); err != nil {
		c.logger.Error("failed to register processed files", "error", err)
		stats.ProcessingErrors++
		return
	}
	c.logger.Info("registered processed files", "count", len(rows))
}

// listDocuments returns the full paths of document-extension entries in dir
// and the count of other entries.
func listDocuments(dir string) ([]string, int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, 0, err
	}

	var paths []string
	other := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), core.DocumentExtension) {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		} else {
			other++
		}
	}
	return paths, other, nil
}
