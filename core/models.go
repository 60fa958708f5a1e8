package core

import "time"

// DocumentExtension is the filename extension of ingestable invoice documents.
const DocumentExtension = ".xml"

// LineItem is one extracted detail line from a DTE document, restricted to
// the product allow-list. The business identity of a line item is the triple
// (IssuerRUT, Folio, ProductCode); the line_items table carries a uniqueness
// constraint on those columns and all writes are upserts against it.
type LineItem struct {
	EmissionDate string    `gorm:"column:fecha_emision"`
	Quantity     float64   `gorm:"column:cantidad"`
	Price        float64   `gorm:"column:precio"`
	Amount       int64     `gorm:"column:monto"`
	RecipientRUT string    `gorm:"column:receptor"`
	ProductCode  string    `gorm:"column:vlr_codigo"`
	ItemName     string    `gorm:"column:nombre_item"`
	Description  string    `gorm:"column:descripcion_item"`
	Branch       string    `gorm:"column:local"`
	Unit         string    `gorm:"column:unidad"`
	DocType      string    `gorm:"column:tipo_dte"`
	Folio        string    `gorm:"column:folio"`
	IssuerRUT    string    `gorm:"column:rut_emisor"`
	IssuerName   string    `gorm:"column:razon_social"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UserEmail    string    `gorm:"column:user_email"`

	// SourceFile is the basename of the document the line was extracted
	// from. It exists only while records move through the pipeline and is
	// stripped before persistence.
	SourceFile string `gorm:"-"`
}

// TableName maps LineItem to the line_items fact table.
func (LineItem) TableName() string { return "line_items" }

// Key returns the business identity key of the line item.
func (li *LineItem) Key() string {
	return li.IssuerRUT + "-" + li.Folio + "-" + li.ProductCode
}

// ProcessedFile is one row of the processed-file ledger. A row asserts that
// the named file, with exactly this content fingerprint, has been ingested.
// Filename is unique; re-registering the same filename is ignored.
type ProcessedFile struct {
	Filename    string    `gorm:"column:filename"`
	ContentHash string    `gorm:"column:hash_contenido"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	Status      string    `gorm:"column:status"`
}

// TableName maps ProcessedFile to the processed_files ledger table.
func (ProcessedFile) TableName() string { return "processed_files" }

// ProcessedFileStatusSuccess is the ledger status recorded for a file whose
// surviving records were persisted.
const ProcessedFileStatusSuccess = "success"

// BranchInfo is the enrichment row looked up by (folio, issuer) from the
// read-only branch directory: which branch received the document and which
// user is responsible for it. Both fields may be empty on a lookup miss.
type BranchInfo struct {
	Branch    string `gorm:"column:local"`
	UserEmail string `gorm:"column:user_email"`
}

// TableName maps BranchInfo to the branch_directory reference table.
func (BranchInfo) TableName() string { return "branch_directory" }

// RunStats aggregates the counters of a single ingestion run. It is
// assembled by the coordinator, returned to the caller and never persisted.
type RunStats struct {
	TotalFiles       int // document files found in the input directory
	NonXML           int // directory entries without the document extension
	AlreadyProcessed int // files skipped because the ledger already has them
	OtherMonths      int // reserved for the current-month filter (not enforced)
	HashErrors       int // files whose content could not be fingerprinted
	NoValidInfo      int // files parsed but contributing zero allow-listed records
	ProcessingErrors int // extraction or bookkeeping failures
	Success          int // unique records persisted
	DuplicateItems   int // records discarded by deduplication
}
