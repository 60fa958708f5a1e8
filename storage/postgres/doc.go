// Package postgres implements the storage contract against the shared
// Postgres database using gorm.
//
// Writes are expressed as ON CONFLICT upserts on the explicit uniqueness
// constraints of each table: (rut_emisor, folio, vlr_codigo) for line items
// and filename for the processed-file ledger. Ledger conflicts are ignored
// (first writer wins); fact-table conflicts overwrite the row, which keeps
// repeated and concurrent runs convergent.
package postgres
