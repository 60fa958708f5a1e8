// Package extract parses DTE (Documento Tributario Electrónico) invoice XML
// into normalized line-item records.
//
// The Extractor locates the document header and detail lines, resolves each
// line's internal product code from its code list, keeps only lines whose
// code appears in the product allow-list, and enriches surviving records
// with branch and responsible-user data looked up by (folio, issuer).
//
// Extraction is read-only: the only side effect is the enrichment lookup.
package extract
