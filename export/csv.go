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


package export

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/condorlabs/dteingest/core"
	"github.com/condorlabs/dteingest/extract"
)

// Result describes a finished export.
type Result struct {
	DataFile     string
	SummaryFile  string
	TotalRecords int
}

// Exporter reads a directory of DTE documents and writes CSV reports.
type Exporter struct {
	logger *slog.Logger
}

// NewExporter creates an exporter. A nil logger selects slog.Default().
func NewExporter(logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{logger: logger}
}

// Export parses every document in sourceDir and writes two reports into
// outDir (created if missing): the full line-item data and a per-code
// summary. Documents that fail to parse are logged and skipped. Returns nil
// when the directory holds no line items at all.
func (e *Exporter) Export(sourceDir, outDir string) (*Result, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	e.logger.Info("reading documents", "dir", sourceDir)
	entries, err := os.ReadDir(sourceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list source directory: %w", err)
	}

	var items []core.LineItem
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), core.DocumentExtension) {
			continue
		}
		path := filepath.Join(sourceDir, entry.Name())

		content, err := os.ReadFile(path)
		if err != nil {
			e.logger.Error("failed to read document", "file", entry.Name(), "error", err)
			continue
		}
		lines, err := extract.ParseAllLines(path, content)
		if err != nil {
			e.logger.Error("failed to parse document", "file", entry.Name(), "error", err)
			continue
		}
		items = append(items, lines...)
	}

	if len(items) == 0 {
		e.logger.Info("no data to export")
		return nil, nil
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15-04-05")
	dataFile := filepath.Join(outDir, fmt.Sprintf("line_items_%s.csv", timestamp))
	summaryFile := filepath.Join(outDir, fmt.Sprintf("summary_by_code_%s.csv", timestamp))

	if err := writeDataCSV(dataFile, items); err != nil {
		return nil, err
	}
	e.logger.Info("exported line items", "file", dataFile, "records", len(items))

	if err := writeSummaryCSV(summaryFile, items); err != nil {
		return nil, err
	}
	e.logger.Info("exported per-code summary", "file", summaryFile)

	return &Result{
		DataFile:     dataFile,
		SummaryFile:  summaryFile,
		TotalRecords: len(items),
	}, nil
}

var dataHeader = []string{
	"FECHA EMISION", "CANTIDAD", "PRECIO", "MONTO", "RECEPTOR", "CODIGO",
	"NOMBRE ITEM", "UNIDAD", "TIPO DTE", "FOLIO", "RUT EMISOR",
	"RAZON SOCIAL", "ARCHIVO ORIGEN",
}

func writeDataCSV(path string, items []core.LineItem) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create data CSV: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = ';'

	if err := w.Write(dataHeader); err != nil {
		return err
	}
	for i := range items {
		item := &items[i]
		record := []string{
			item.EmissionDate,
			formatDecimal(item.Quantity),
			formatDecimal(item.Price),
			strconv.FormatInt(item.Amount, 10),
			item.RecipientRUT,
			item.ProductCode,
			item.ItemName,
			item.Unit,
			item.DocType,
			item.Folio,
			item.IssuerRUT,
			item.IssuerName,
			item.SourceFile,
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

// codeSummary accumulates per-product-code totals.
type codeSummary struct {
	code        string
	itemName    string // name of the first item seen for the code
	totalQty    float64
	totalAmount int64
	count       int
}

var summaryHeader = []string{
	"CODIGO", "DESCRIPCION", "CANTIDAD TOTAL", "MONTO TOTAL",
	"PRECIO PROMEDIO", "CANTIDAD DE REGISTROS",
}

func writeSummaryCSV(path string, items []core.LineItem) error {
	summaries := make(map[string]*codeSummary)
	var order []string
	for i := range items {
		item := &items[i]
		s, ok := summaries[item.ProductCode]
		if !ok {
			s = &codeSummary{code: item.ProductCode, itemName: item.ItemName}
			summaries[item.ProductCode] = s
			order = append(order, item.ProductCode)
		}
		s.totalQty += item.Quantity
		s.totalAmount += item.Amount
		s.count++
	}
	sort.Strings(order)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create summary CSV: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Comma = ';'

	if err := w.Write(summaryHeader); err != nil {
		return err
	}
	for _, code := range order {
		s := summaries[code]
		avgPrice := 0.0
		if s.totalQty != 0 {
			avgPrice = float64(s.totalAmount) / s.totalQty
		}
		record := []string{
			s.code,
			s.itemName,
			formatDecimal(s.totalQty),
			strconv.FormatInt(s.totalAmount, 10),
			formatDecimal(avgPrice),
			strconv.Itoa(s.count),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

func formatDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
