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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/condorlabs/dteingest/core"
	"github.com/condorlabs/dteingest/extract"
	"github.com/condorlabs/dteingest/storage"
)

// defaultPoolSize is the worker count: available processing units minus one
// for the coordinator, never below one.
func defaultPoolSize() int {
	size := runtime.NumCPU() - 1
	if size < 1 {
		size = 1
	}
	return size
}

// chunkResult is what one worker unit hands back to the coordinator.
type chunkResult struct {
	// items are the extracted, filename-tagged records of the chunk.
	items []core.LineItem

	// skipped names files not opened because the ledger already has them.
	skipped []string

	// failed names files whose read or extraction failed; they contribute
	// zero records without failing the unit.
	failed []string

	// err is set only when the unit itself failed; it fails the pool.
	err error
}

// poolResult aggregates all units of one pool invocation.
type poolResult struct {
	items   []core.LineItem
	skipped []string
	failed  []string
}

// pool runs the extractor over chunks of files in parallel units.
type pool struct {
	size      int
	extractor *extract.Extractor
	ledger    storage.ProcessedFileLedger
	logger    *slog.Logger
}

// process partitions paths into contiguous, roughly equal chunks, one per
// unit, and runs every unit to completion. Results are flattened in chunk
// order so the coordinator sees a deterministic stream for a given input
// ordering. Any unit failure fails the whole invocation.
func (p *pool) process(ctx context.Context, paths []string) (poolResult, error) {
	var merged poolResult
	if len(paths) == 0 {
		return merged, nil
	}

	units := p.size
	if units > len(paths) {
		units = len(paths)
	}
	chunkSize := (len(paths) + units - 1) / units

	workers, err := ants.NewPool(units)
	if err != nil {
		return merged, err
	}
	defer workers.Release()

	var chunks [][]string
	for start := 0; start < len(paths); start += chunkSize {
		end := start + chunkSize
		if end > len(paths) {
			end = len(paths)
		}
		chunks = append(chunks, paths[start:end])
	}

	results := make([]chunkResult, len(chunks))
	var wg sync.WaitGroup
	for i, chunk := range chunks {
		wg.Add(1)
		if err := workers.Submit(func() {
			defer wg.Done()
			results[i] = p.processChunk(ctx, chunk)
		}); err != nil {
			wg.Done()
			return merged, fmt.Errorf("failed to dispatch chunk %d: %w", i, err)
		}
	}
	wg.Wait()

	// Flatten in chunk order so the record stream is deterministic for a
	// given input ordering, independent of unit completion order.
	for i := range results {
		if results[i].err != nil {
			return poolResult{}, fmt.Errorf("worker unit %d failed: %w", i, results[i].err)
		}
		merged.items = append(merged.items, results[i].items...)
		merged.skipped = append(merged.skipped, results[i].skipped...)
		merged.failed = append(merged.failed, results[i].failed...)
	}
	return merged, nil
}

// processChunk extracts every file of one chunk. Per-file failures are
// contained here: the file contributes zero records and the run continues.
func (p *pool) processChunk(ctx context.Context, chunk []string) (result chunkResult) {
	defer func() {
		if r := recover(); r != nil {
			result.err = fmt.Errorf("panic in worker unit: %v", r)
		}
	}()

	for _, path := range chunk {
		filename := filepath.Base(path)

		// At-most-once guard: a filename already in the ledger was
		// ingested by an earlier run and is skipped unopened.
		_, err := p.ledger.Find(ctx, filename)
		switch {
		case err == nil:
			p.logger.Info("file already processed, skipping", "file", filename)
			result.skipped = append(result.skipped, filename)
			continue
		case !errors.Is(err, storage.ErrNotFound):
			p.logger.Error("ledger lookup failed, processing file anyway",
				"file", filename, "error", err)
		}

		content, err := os.ReadFile(path)
		if err != nil {
			p.logger.Error("failed to read file", "file", filename, "error", err)
			result.failed = append(result.failed, filename)
			continue
		}

		items, err := p.extractor.Extract(ctx, path, content)
		if err != nil {
			p.logger.Error("extraction failed", "file", filename, "error", err)
			result.failed = append(result.failed, filename)
			continue
		}

		result.items = append(result.items, items...)
	}
	return result
}
