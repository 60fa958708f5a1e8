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


package extract

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/condorlabs/dteingest/core"
)

// BranchDirectory resolves the branch and responsible user assigned to a
// document, keyed by (folio, issuer RUT). Implementations are read-only.
type BranchDirectory interface {
	// BranchInfo returns the enrichment row for the given document.
	// A miss is reported as an error by the implementation; the extractor
	// treats any lookup failure as "no enrichment available".
	BranchInfo(ctx context.Context, folio, issuerRUT string) (*core.BranchInfo, error)
}

// Extractor turns one DTE document into filtered line-item records.
type Extractor struct {
	allowList *AllowList
	directory BranchDirectory
	logger    *slog.Logger
}

// NewExtractor creates an extractor using the given allow-list and branch
// directory. A nil allowList selects the embedded default; a nil logger
// selects slog.Default().
func NewExtractor(allowList *AllowList, directory BranchDirectory, logger *slog.Logger) (*Extractor, error) {
	if directory == nil {
		return nil, ErrBranchDirectoryRequired
	}
	if allowList == nil {
		allowList = DefaultAllowList()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{allowList: allowList, directory: directory, logger: logger}, nil
}

// Extract parses the raw content of the document at path and returns its
// allow-listed line items, tagged with the document's basename. An empty
// slice means the document parsed but no line survived the filter.
//
// Fails with ErrEmptyContent on blank content and ErrMalformedStructure when
// the DTE/Documento/Encabezado skeleton cannot be located. Deeper schema
// validation is left to the issuing authority.
func (e *Extractor) Extract(ctx context.Context, path string, content []byte) ([]core.LineItem, error) {
	doc, err := decodeDocument(content)
	if err != nil {
		return nil, err
	}

	header := doc.Encabezado
	folio := header.IdDoc.Folio
	issuer := header.Emisor.RUTEmisor
	filename := filepath.Base(path)

	// One enrichment lookup per document; all its lines share the result.
	branch := e.lookupBranch(ctx, folio, issuer)

	items := make([]core.LineItem, 0, len(doc.Detalle))
	for _, detail := range doc.Detalle {
		code := detail.productCode()
		if code == "" || !e.allowList.Contains(code) {
			continue
		}

		items = append(items, core.LineItem{
			EmissionDate: header.IdDoc.FchEmis,
			Quantity:     parseDecimal(detail.QtyItem),
			Price:        parseDecimal(detail.PrcItem),
			Amount:       parseAmount(detail.MontoItem),
			RecipientRUT: header.Receptor.RUTRecep,
			ProductCode:  code,
			ItemName:     detail.NmbItem,
			Branch:       branch.Branch,
			Unit:         detail.UnmdItem,
			DocType:      header.IdDoc.TipoDTE,
			Folio:        folio,
			IssuerRUT:    issuer,
			IssuerName:   header.Emisor.RznSoc,
			CreatedAt:    time.Now().UTC(),
			UserEmail:    branch.UserEmail,
			SourceFile:   filename,
		})
	}

	return items, nil
}

// decodeDocument unmarshals raw content and validates the document skeleton.
func decodeDocument(content []byte) (*dteDocumento, error) {
	if strings.TrimSpace(string(content)) == "" {
		return nil, ErrEmptyContent
	}

	var envelope dteEnvelope
	if err := xml.Unmarshal(content, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedStructure, err)
	}

	doc := envelope.Documento
	if doc == nil || doc.Encabezado == nil {
		return nil, fmt.Errorf("%w: missing DTE.Documento header", ErrMalformedStructure)
	}
	return doc, nil
}

// lookupBranch queries the branch directory. Misses and lookup errors both
// degrade to empty enrichment fields; they never fail the document.
func (e *Extractor) lookupBranch(ctx context.Context, folio, issuer string) core.BranchInfo {
	info, err := e.directory.BranchInfo(ctx, folio, issuer)
	if err != nil {
		e.logger.Warn("no branch directory entry for document",
			"folio", folio, "issuer", issuer, "error", err)
		return core.BranchInfo{}
	}
	if info.Branch == "" || info.UserEmail == "" {
		e.logger.Warn("incomplete branch directory entry for document",
			"folio", folio, "issuer", issuer)
	}
	return *info
}

// ParseAllLines parses every detail line of the document into records,
// without the allow-list filter or enrichment. It backs reporting flows
// that need the raw document contents; ingestion goes through Extract.
// Lines without an INT1 entry fall back to the first code in their list.
func ParseAllLines(path string, content []byte) ([]core.LineItem, error) {
	doc, err := decodeDocument(content)
	if err != nil {
		return nil, err
	}

	header := doc.Encabezado
	filename := filepath.Base(path)

	items := make([]core.LineItem, 0, len(doc.Detalle))
	for _, detail := range doc.Detalle {
		code := detail.productCode()
		if code == "" && len(detail.CdgItem) > 0 {
			code = detail.CdgItem[0].VlrCodigo
		}

		items = append(items, core.LineItem{
			EmissionDate: header.IdDoc.FchEmis,
			Quantity:     parseDecimal(detail.QtyItem),
			Price:        parseDecimal(detail.PrcItem),
			Amount:       parseAmount(detail.MontoItem),
			RecipientRUT: header.Receptor.RUTRecep,
			ProductCode:  code,
			ItemName:     detail.NmbItem,
			Unit:         detail.UnmdItem,
			DocType:      header.IdDoc.TipoDTE,
			Folio:        header.IdDoc.Folio,
			IssuerRUT:    header.Emisor.RUTEmisor,
			IssuerName:   header.Emisor.RznSoc,
			CreatedAt:    time.Now().UTC(),
			SourceFile:   filename,
		})
	}
	return items, nil
}

// parseDecimal parses a quantity or price field. Malformed text yields NaN
// rather than an error; the store decides whether to accept such rows.
func parseDecimal(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// parseAmount parses an integer currency amount with truncation semantics:
// "1234.90" becomes 1234. Malformed text yields 0.
func parseAmount(s string) int64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return int64(v)
}
