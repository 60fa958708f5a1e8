package ingestion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/condorlabs/dteingest/core"
	"github.com/condorlabs/dteingest/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore implements storage.Store in memory for testing.
type fakeStore struct {
	mu sync.Mutex

	items    map[string]core.LineItem      // keyed by business key
	ledger   map[string]core.ProcessedFile // keyed by filename
	branches map[string]core.BranchInfo    // keyed by folio+"/"+issuer

	upsertBatchErr   error
	registerBatchErr error
	upsertCalls      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		items:    make(map[string]core.LineItem),
		ledger:   make(map[string]core.ProcessedFile),
		branches: make(map[string]core.BranchInfo),
	}
}

func (s *fakeStore) Exists(ctx context.Context, issuerRUT, folio, productCode string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[issuerRUT+"-"+folio+"-"+productCode]
	return ok, nil
}

func (s *fakeStore) Upsert(ctx context.Context, item *core.LineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.Key()] = *item
	return nil
}

func (s *fakeStore) UpsertBatch(ctx context.Context, items []core.LineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertBatchErr != nil {
		return s.upsertBatchErr
	}
	if len(items) > 0 {
		s.upsertCalls++
	}
	for i := range items {
		s.items[items[i].Key()] = items[i]
	}
	return nil
}

func (s *fakeStore) Find(ctx context.Context, filename string) (*core.ProcessedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if file, ok := s.ledger[filename]; ok {
		return &file, nil
	}
	return nil, storage.ErrNotFound
}

func (s *fakeStore) Register(ctx context.Context, file *core.ProcessedFile) error {
	return s.RegisterBatch(ctx, []core.ProcessedFile{*file})
}

func (s *fakeStore) RegisterBatch(ctx context.Context, files []core.ProcessedFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registerBatchErr != nil {
		return s.registerBatchErr
	}
	for _, file := range files {
		if _, ok := s.ledger[file.Filename]; ok {
			continue // filename conflicts are ignored
		}
		s.ledger[file.Filename] = file
	}
	return nil
}

func (s *fakeStore) BranchInfo(ctx context.Context, folio, issuerRUT string) (*core.BranchInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if info, ok := s.branches[folio+"/"+issuerRUT]; ok {
		return &info, nil
	}
	return nil, storage.ErrNotFound
}

func (s *fakeStore) Ping(ctx context.Context) error { return nil }
func (s *fakeStore) Close() error                   { return nil }

func dteDocument(folio, code string, amount int) string {
	return fmt.Sprintf(`<DTE><Documento>
  <Encabezado>
    <IdDoc><TipoDTE>33</TipoDTE><Folio>%s</Folio><FchEmis>2025-07-14</FchEmis></IdDoc>
    <Emisor><RUTEmisor>76012345-6</RUTEmisor><RznSoc>Carnes del Sur SpA</RznSoc></Emisor>
    <Receptor><RUTRecep>96555000-1</RUTRecep></Receptor>
  </Encabezado>
  <Detalle>
    <CdgItem><TpoCodigo>INT1</TpoCodigo><VlrCodigo>%s</VlrCodigo></CdgItem>
    <NmbItem>POSTA NEGRA</NmbItem>
    <QtyItem>1</QtyItem><UnmdItem>KG</UnmdItem><PrcItem>%d</PrcItem><MontoItem>%d</MontoItem>
  </Detalle>
</Documento></DTE>`, folio, code, amount, amount)
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

// testRun creates a coordinator over dir and runs it with a single worker so
// files are extracted in directory order.
func testRun(t *testing.T, store *fakeStore, dir string) (core.RunStats, error) {
	t.Helper()
	coord, err := NewCoordinator(store, Config{SourceDir: dir, Workers: 1})
	require.NoError(t, err)
	return coord.Run(context.Background())
}

func TestNewCoordinator_Validation(t *testing.T) {
	_, err := NewCoordinator(nil, Config{SourceDir: "x"})
	assert.ErrorIs(t, err, ErrStoreRequired)

	_, err = NewCoordinator(newFakeStore(), Config{})
	assert.ErrorIs(t, err, ErrSourceDirRequired)
}

func TestRun_DuplicateAcrossFiles(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "xml")
	require.NoError(t, os.Mkdir(dir, 0755))

	// Two documents for the same (issuer, folio) with the same product
	// code; b.xml is extracted second and therefore stamped later.
	writeFile(t, dir, "a.xml", dteDocument("100", "P16", 1000))
	writeFile(t, dir, "b.xml", dteDocument("100", "P16", 2000))

	store := newFakeStore()
	stats, err := testRun(t, store, dir)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.TotalFiles)
	assert.Equal(t, 1, stats.Success)
	assert.Equal(t, 1, stats.DuplicateItems)

	require.Len(t, store.items, 1)
	persisted := store.items["76012345-6-100-P16"]
	assert.Equal(t, int64(2000), persisted.Amount, "the later document's values win")
	assert.Empty(t, persisted.SourceFile)

	// Both files contributed records, so both are registered.
	assert.Len(t, store.ledger, 2)
	assert.Contains(t, string(mustRead(t, filepath.Join(parent, AuditLogName))), "76012345-6-100-P16")
}

func TestRun_NonAllowListedOnly(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "xml")
	require.NoError(t, os.Mkdir(dir, 0755))
	writeFile(t, dir, "doc.xml", dteDocument("200", "ZZZZZ", 1000))

	store := newFakeStore()
	stats, err := testRun(t, store, dir)
	require.NoError(t, err)

	assert.Zero(t, stats.Success)
	assert.Zero(t, stats.ProcessingErrors)
	assert.Equal(t, 1, stats.NoValidInfo)
	assert.Empty(t, store.items)
	assert.Empty(t, store.ledger, "zero-record files are excluded from bookkeeping")
}

func TestRun_EmptyDocumentRecovered(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "xml")
	require.NoError(t, os.Mkdir(dir, 0755))
	writeFile(t, dir, "empty.xml", "   ")
	writeFile(t, dir, "good.xml", dteDocument("300", "P16", 500))

	store := newFakeStore()
	stats, err := testRun(t, store, dir)
	require.NoError(t, err, "a per-file extraction error must not fail the run")

	assert.Equal(t, 1, stats.ProcessingErrors)
	assert.Equal(t, 1, stats.Success)
	assert.Len(t, store.ledger, 1, "only the contributing file is registered")
}

func TestRun_IdempotentRerun(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "xml")
	require.NoError(t, os.Mkdir(dir, 0755))
	writeFile(t, dir, "a.xml", dteDocument("100", "P16", 1000))
	writeFile(t, dir, "b.xml", dteDocument("101", "P37", 2000))

	store := newFakeStore()
	first, err := testRun(t, store, dir)
	require.NoError(t, err)
	require.Equal(t, 2, first.Success)
	require.Len(t, store.ledger, 2)

	second, err := testRun(t, store, dir)
	require.NoError(t, err)

	assert.Equal(t, 2, second.AlreadyProcessed)
	assert.Zero(t, second.Success)
	assert.Equal(t, 1, store.upsertCalls, "no new batch write on the second run")
}

func TestRun_CountsNonDocumentFiles(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "xml")
	require.NoError(t, os.Mkdir(dir, 0755))
	writeFile(t, dir, "a.xml", dteDocument("100", "P16", 1000))
	writeFile(t, dir, "notes.txt", "not an invoice")
	writeFile(t, dir, "report.pdf", "binary")

	store := newFakeStore()
	stats, err := testRun(t, store, dir)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.TotalFiles)
	assert.Equal(t, 2, stats.NonXML)
}

func TestRun_EnrichmentApplied(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "xml")
	require.NoError(t, os.Mkdir(dir, 0755))
	writeFile(t, dir, "a.xml", dteDocument("100", "P16", 1000))

	store := newFakeStore()
	store.branches["100/76012345-6"] = core.BranchInfo{Branch: "Sucursal Temuco", UserEmail: "jperez@example.cl"}

	_, err := testRun(t, store, dir)
	require.NoError(t, err)

	persisted := store.items["76012345-6-100-P16"]
	assert.Equal(t, "Sucursal Temuco", persisted.Branch)
	assert.Equal(t, "jperez@example.cl", persisted.UserEmail)
}

func TestRun_BatchPersistFailureIsFatal(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "xml")
	require.NoError(t, os.Mkdir(dir, 0755))
	writeFile(t, dir, "a.xml", dteDocument("100", "P16", 1000))

	store := newFakeStore()
	store.upsertBatchErr = errors.New("connection reset")

	stats, err := testRun(t, store, dir)
	require.Error(t, err)
	assert.Equal(t, 1, stats.ProcessingErrors)
	assert.Empty(t, store.ledger, "no bookkeeping after a fatal persistence failure")
}

func TestRun_LedgerFailureIsRecovered(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "xml")
	require.NoError(t, os.Mkdir(dir, 0755))
	writeFile(t, dir, "a.xml", dteDocument("100", "P16", 1000))

	store := newFakeStore()
	store.registerBatchErr = errors.New("ledger unavailable")

	stats, err := testRun(t, store, dir)
	require.NoError(t, err, "a bookkeeping failure must not abort the run")

	assert.Equal(t, 1, stats.Success, "the business facts stay persisted")
	assert.Equal(t, 1, stats.ProcessingErrors)
}

func TestRun_ManyWorkers(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "xml")
	require.NoError(t, os.Mkdir(dir, 0755))
	for i := 0; i < 20; i++ {
		writeFile(t, dir, fmt.Sprintf("doc%02d.xml", i), dteDocument(fmt.Sprintf("%d", 100+i), "P16", 100*(i+1)))
	}

	store := newFakeStore()
	coord, err := NewCoordinator(store, Config{SourceDir: dir, Workers: 4})
	require.NoError(t, err)

	stats, err := coord.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 20, stats.TotalFiles)
	assert.Equal(t, 20, stats.Success)
	assert.Zero(t, stats.DuplicateItems)
	assert.Len(t, store.items, 20)
	assert.Len(t, store.ledger, 20)
}

func mustRead(t *testing.T, path string) []byte {
	t.Helper()
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	return content
}
