package extract

// Wire shapes for the subset of the DTE schema the pipeline reads. Field
// names mirror the SII element names; everything else in the document is
// ignored by the decoder.

type dteEnvelope struct {
	Documento *dteDocumento `xml:"Documento"`
}

type dteDocumento struct {
	Encabezado *dteEncabezado `xml:"Encabezado"`
	Detalle    []dteDetalle   `xml:"Detalle"`
}

type dteEncabezado struct {
	IdDoc    dteIdDoc    `xml:"IdDoc"`
	Emisor   dteEmisor   `xml:"Emisor"`
	Receptor dteReceptor `xml:"Receptor"`
}

type dteIdDoc struct {
	TipoDTE string `xml:"TipoDTE"`
	Folio   string `xml:"Folio"`
	FchEmis string `xml:"FchEmis"`
}

type dteEmisor struct {
	RUTEmisor string `xml:"RUTEmisor"`
	RznSoc    string `xml:"RznSoc"`
}

type dteReceptor struct {
	RUTRecep string `xml:"RUTRecep"`
}

type dteDetalle struct {
	CdgItem   []dteCdgItem `xml:"CdgItem"`
	NmbItem   string       `xml:"NmbItem"`
	QtyItem   string       `xml:"QtyItem"`
	UnmdItem  string       `xml:"UnmdItem"`
	PrcItem   string       `xml:"PrcItem"`
	MontoItem string       `xml:"MontoItem"`
}

type dteCdgItem struct {
	TpoCodigo string `xml:"TpoCodigo"`
	VlrCodigo string `xml:"VlrCodigo"`
}

// internalCodeType marks the entry of a detail line's code list that carries
// the issuer's internal product classification.
const internalCodeType = "INT1"

// productCode resolves the internal product code of a detail line from its
// possibly-repeated code list. Returns "" when no INT1 entry is present.
func (d *dteDetalle) productCode() string {
	for _, cdg := range d.CdgItem {
		if cdg.TpoCodigo == internalCodeType {
			return cdg.VlrCodigo
		}
	}
	return ""
}
