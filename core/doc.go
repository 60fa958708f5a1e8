// Package core defines the domain model shared by the ingestion pipeline:
// extracted line items, processed-file ledger rows, branch enrichment data,
// per-run statistics and content fingerprinting.
package core
