// Package ingestion orchestrates the end-to-end invoice ingestion run.
//
// The Coordinator enumerates the input directory, fans the document files
// out to a worker pool for extraction, merges and deduplicates the results
// by business key, persists the unique record set with one idempotent batch
// upsert, and registers contributing files in the processed-file ledger so
// that unchanged files are ingested at most once across runs.
//
// Workers share no mutable state: each unit receives a contiguous chunk of
// files and hands its extracted records back to the coordinator. A failure
// inside a single file is contained by the unit; a failing unit fails the
// whole run.
package ingestion
