// Package export generates CSV reports from a directory of DTE documents:
// a full line-item dump and a per-product-code summary. Reports are built
// from the raw documents without the ingestion allow-list, so they show
// everything the invoices contain.
package export
