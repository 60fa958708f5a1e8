package extract

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/condorlabs/dteingest/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testDirectory implements BranchDirectory for testing.
type testDirectory struct {
	entries map[string]core.BranchInfo // key: folio+"/"+issuer
	err     error
	calls   int
}

func (d *testDirectory) BranchInfo(ctx context.Context, folio, issuerRUT string) (*core.BranchInfo, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	if info, ok := d.entries[folio+"/"+issuerRUT]; ok {
		return &info, nil
	}
	return nil, errors.New("not found")
}

const sampleDTE = `<?xml version="1.0" encoding="ISO-8859-1"?>
<DTE version="1.0">
  <Documento ID="F100T33">
    <Encabezado>
      <IdDoc>
        <TipoDTE>33</TipoDTE>
        <Folio>100</Folio>
        <FchEmis>2025-07-14</FchEmis>
      </IdDoc>
      <Emisor>
        <RUTEmisor>76012345-6</RUTEmisor>
        <RznSoc>Carnes del Sur SpA</RznSoc>
      </Emisor>
      <Receptor>
        <RUTRecep>96555000-1</RUTRecep>
      </Receptor>
    </Encabezado>
    <Detalle>
      <NroLinDet>1</NroLinDet>
      <CdgItem>
        <TpoCodigo>EAN13</TpoCodigo>
        <VlrCodigo>7801234567890</VlrCodigo>
      </CdgItem>
      <CdgItem>
        <TpoCodigo>INT1</TpoCodigo>
        <VlrCodigo>P16</VlrCodigo>
      </CdgItem>
      <NmbItem>POSTA NEGRA VACUNO</NmbItem>
      <QtyItem>12.5</QtyItem>
      <UnmdItem>KG</UnmdItem>
      <PrcItem>8990</PrcItem>
      <MontoItem>112375</MontoItem>
    </Detalle>
    <Detalle>
      <NroLinDet>2</NroLinDet>
      <CdgItem>
        <TpoCodigo>INT1</TpoCodigo>
        <VlrCodigo>ZZZZZ</VlrCodigo>
      </CdgItem>
      <NmbItem>ITEM NO LISTADO</NmbItem>
      <QtyItem>1</QtyItem>
      <UnmdItem>UN</UnmdItem>
      <PrcItem>1000</PrcItem>
      <MontoItem>1000</MontoItem>
    </Detalle>
  </Documento>
</DTE>`

func newTestExtractor(t *testing.T, dir *testDirectory) *Extractor {
	t.Helper()
	e, err := NewExtractor(nil, dir, nil)
	require.NoError(t, err)
	return e
}

func TestExtract_FiltersByAllowList(t *testing.T) {
	dir := &testDirectory{entries: map[string]core.BranchInfo{
		"100/76012345-6": {Branch: "Sucursal Temuco", UserEmail: "jperez@example.cl"},
	}}
	e := newTestExtractor(t, dir)

	items, err := e.Extract(context.Background(), "/data/xml/F100T33.xml", []byte(sampleDTE))
	require.NoError(t, err)
	require.Len(t, items, 1, "only the allow-listed line survives")

	item := items[0]
	assert.Equal(t, "P16", item.ProductCode)
	assert.Equal(t, "100", item.Folio)
	assert.Equal(t, "76012345-6", item.IssuerRUT)
	assert.Equal(t, "96555000-1", item.RecipientRUT)
	assert.Equal(t, "Carnes del Sur SpA", item.IssuerName)
	assert.Equal(t, "33", item.DocType)
	assert.Equal(t, "2025-07-14", item.EmissionDate)
	assert.Equal(t, "POSTA NEGRA VACUNO", item.ItemName)
	assert.Equal(t, "KG", item.Unit)
	assert.Equal(t, 12.5, item.Quantity)
	assert.Equal(t, 8990.0, item.Price)
	assert.Equal(t, int64(112375), item.Amount)
	assert.Equal(t, "Sucursal Temuco", item.Branch)
	assert.Equal(t, "jperez@example.cl", item.UserEmail)
	assert.Equal(t, "F100T33.xml", item.SourceFile)
	assert.False(t, item.CreatedAt.IsZero())
}

func TestExtract_OneLookupPerDocument(t *testing.T) {
	dir := &testDirectory{entries: map[string]core.BranchInfo{
		"100/76012345-6": {Branch: "Sucursal Temuco", UserEmail: "jperez@example.cl"},
	}}
	e := newTestExtractor(t, dir)

	_, err := e.Extract(context.Background(), "doc.xml", []byte(sampleDTE))
	require.NoError(t, err)
	assert.Equal(t, 1, dir.calls, "enrichment is looked up once per document")
}

func TestExtract_LookupMissYieldsEmptyEnrichment(t *testing.T) {
	dir := &testDirectory{} // no entries: every lookup misses
	e := newTestExtractor(t, dir)

	items, err := e.Extract(context.Background(), "doc.xml", []byte(sampleDTE))
	require.NoError(t, err, "a directory miss must not fail the document")
	require.Len(t, items, 1)
	assert.Empty(t, items[0].Branch)
	assert.Empty(t, items[0].UserEmail)
}

func TestExtract_EmptyContent(t *testing.T) {
	e := newTestExtractor(t, &testDirectory{})

	_, err := e.Extract(context.Background(), "empty.xml", []byte("   \n\t"))
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestExtract_MalformedStructure(t *testing.T) {
	e := newTestExtractor(t, &testDirectory{})

	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "not XML at all",
			content: "this is not a document",
		},
		{
			name:    "missing Documento",
			content: "<DTE></DTE>",
		},
		{
			name:    "missing Encabezado",
			content: "<DTE><Documento><Detalle></Detalle></Documento></DTE>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Extract(context.Background(), "bad.xml", []byte(tt.content))
			assert.ErrorIs(t, err, ErrMalformedStructure)
		})
	}
}

func TestExtract_NoInternalCodeDropsLine(t *testing.T) {
	content := `<DTE><Documento>
	  <Encabezado>
	    <IdDoc><TipoDTE>33</TipoDTE><Folio>7</Folio><FchEmis>2025-07-01</FchEmis></IdDoc>
	    <Emisor><RUTEmisor>76012345-6</RUTEmisor><RznSoc>X</RznSoc></Emisor>
	    <Receptor><RUTRecep>1-9</RUTRecep></Receptor>
	  </Encabezado>
	  <Detalle>
	    <CdgItem><TpoCodigo>EAN13</TpoCodigo><VlrCodigo>P16</VlrCodigo></CdgItem>
	    <NmbItem>SIN CODIGO INTERNO</NmbItem>
	    <QtyItem>1</QtyItem><PrcItem>100</PrcItem><MontoItem>100</MontoItem>
	  </Detalle>
	</Documento></DTE>`

	e := newTestExtractor(t, &testDirectory{})
	items, err := e.Extract(context.Background(), "doc.xml", []byte(content))
	require.NoError(t, err)
	assert.Empty(t, items, "a line with no INT1 code entry is dropped, not an error")
}

func TestExtract_MalformedNumerics(t *testing.T) {
	content := `<DTE><Documento>
	  <Encabezado>
	    <IdDoc><TipoDTE>33</TipoDTE><Folio>8</Folio><FchEmis>2025-07-01</FchEmis></IdDoc>
	    <Emisor><RUTEmisor>76012345-6</RUTEmisor><RznSoc>X</RznSoc></Emisor>
	    <Receptor><RUTRecep>1-9</RUTRecep></Receptor>
	  </Encabezado>
	  <Detalle>
	    <CdgItem><TpoCodigo>INT1</TpoCodigo><VlrCodigo>P16</VlrCodigo></CdgItem>
	    <NmbItem>NUMEROS ROTOS</NmbItem>
	    <QtyItem>abc</QtyItem><PrcItem></PrcItem><MontoItem>12.9</MontoItem>
	  </Detalle>
	</Documento></DTE>`

	e := newTestExtractor(t, &testDirectory{})
	items, err := e.Extract(context.Background(), "doc.xml", []byte(content))
	require.NoError(t, err)
	require.Len(t, items, 1, "malformed numerics do not drop the line")

	assert.True(t, math.IsNaN(items[0].Quantity))
	assert.True(t, math.IsNaN(items[0].Price))
	assert.Equal(t, int64(12), items[0].Amount, "amount truncates toward zero")
}
