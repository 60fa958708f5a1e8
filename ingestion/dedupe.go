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
	"fmt"
	"os"
	"time"

	"github.com/condorlabs/dteingest/core"
)

// AuditLog is the append-only trail of records discarded or replaced during
// deduplication. One audit log is opened per run; concurrent runs against
// the same file are not supported.
type AuditLog struct {
	f *os.File
}

// OpenAuditLog opens (or creates) the audit file for appending.
func OpenAuditLog(path string) (*AuditLog, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return &AuditLog{f: f}, nil
}

// Logf appends one timestamped line to the trail.
func (a *AuditLog) Logf(format string, args ...any) {
	if a == nil || a.f == nil {
		return
	}
	fmt.Fprintf(a.f, "%s - %s\n", time.Now().UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))
}

// Close closes the underlying file.
func (a *AuditLog) Close() error {
	if a == nil || a.f == nil {
		return nil
	}
	return a.f.Close()
}

// Deduplicate reduces the flattened record stream to one record per
// business key (issuer, folio, product code).
//
// For each key the record with the strictly latest CreatedAt wins; on equal
// timestamps the first-seen record is kept. Every replacement and discard is
// written to the audit trail together with the originating filename. The
// returned records have the transient filename tag stripped and keep the
// first-seen order of their keys, so the output is deterministic for a
// given input ordering.
func Deduplicate(items []core.LineItem, audit *AuditLog) ([]core.LineItem, int) {
	unique := make(map[string]core.LineItem, len(items))
	order := make([]string, 0, len(items))
	duplicates := 0

	for _, item := range items {
		key := item.Key()
		held, ok := unique[key]
		if !ok {
			unique[key] = item
			order = append(order, key)
			continue
		}

		if item.CreatedAt.After(held.CreatedAt) {
			audit.Logf("replaced: %s - file: %s", key, held.SourceFile)
			unique[key] = item
		} else {
			audit.Logf("discarded duplicate: %s - file: %s", key, item.SourceFile)
		}
		duplicates++
	}

	deduped := make([]core.LineItem, 0, len(order))
	for _, key := range order {
		item := unique[key]
		item.SourceFile = ""
		deduped = append(deduped, item)
	}
	return deduped, duplicates
}
