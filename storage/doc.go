// Package storage defines the contract between the ingestion pipeline and
// the shared persistence store: the line-item fact table, the processed-file
// ledger and the read-only branch directory.
//
// The pipeline never issues queries directly; it talks to these interfaces,
// and implementations wrap every logical operation in bounded retry with
// exponential backoff (see RetryWithBackoff).
package storage
