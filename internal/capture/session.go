package capture

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/David-Pajuelo/thot-security-sub001/internal/albaran"
	"github.com/David-Pajuelo/thot-security-sub001/internal/extraction"
	"github.com/David-Pajuelo/thot-security-sub001/internal/raster"
)

// rasterWorkers bounds concurrent page rendering for multi-page sources.
const rasterWorkers = 4

// sessionCounter backs default session IDs.
var sessionCounter atomic.Uint64

// Session is one active capture: the uploaded source, its prepared pages,
// and the workflow state. Prepared pages and extracted fields survive
// retries; everything is discarded when the session is superseded.
type Session struct {
	mu         sync.Mutex
	id         string
	ctx        context.Context
	cancel     context.CancelFunc
	superseded bool

	state    State
	lastGood State
	failMsg  string

	source *raster.Source
	pages  []*raster.PreparedPage

	doc       *extraction.Document
	selected  []bool
	submitted int
	upright   []byte

	existing       *albaran.ExistingDocumentSummary
	markers        []DuplicateMarker
	keepDuplicates bool
	decision       Decision
	albaranID      string
	recovered      bool
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// supersede abandons the session: in-flight external calls are cancelled
// and any late result is discarded.
func (s *Session) supersede() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.superseded = true
	s.cancel()
}

// fail records a failure and the last good state so the operator can retry
// without re-entering data.
func (s *Session) fail(lastGood State, msg string) {
	s.state = StateFailed
	s.lastGood = lastGood
	s.failMsg = msg
}

// sessionCtx derives a context that is cancelled either by the caller or
// by the session being superseded.
func (s *Session) sessionCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	cctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return cctx, func() {
		stop()
		cancel()
	}
}

// Rotate adds a clockwise delta to a page's rotation state. Only allowed
// while drafting; after submission the flattened buffer is authoritative.
func (s *Session) rotate(pageIndex, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.superseded {
		return ErrStaleSession
	}
	if s.state != StateDraft {
		return &ValidationError{Reason: fmt.Sprintf("cannot rotate in state %s", s.state)}
	}
	if pageIndex < 0 || pageIndex >= len(s.pages) {
		return &ValidationError{Reason: fmt.Sprintf("page %d out of range", pageIndex)}
	}
	page := s.pages[pageIndex]
	if page.Err != nil {
		return &ValidationError{Reason: fmt.Sprintf("page %d failed preparation: %v", pageIndex, page.Err)}
	}
	if err := page.Rotate(delta); err != nil {
		return &ValidationError{Reason: err.Error()}
	}
	return nil
}

// submit flattens the chosen page and runs OCR extraction on it. All pages
// must be fully prepared first; a page that failed rasterization blocks
// submission until the source is re-uploaded.
func (s *Session) submit(ctx context.Context, extractor extraction.Extractor, catalog albaran.Catalog, pageIndex int) error {
	s.mu.Lock()
	if s.superseded {
		s.mu.Unlock()
		return ErrStaleSession
	}
	if s.state != StateDraft {
		s.mu.Unlock()
		return &ValidationError{Reason: fmt.Sprintf("cannot submit from state %s", s.state)}
	}
	if len(s.pages) == 0 {
		s.mu.Unlock()
		return &ValidationError{Reason: "at least one prepared page is required"}
	}
	for _, p := range s.pages {
		if p.Err != nil {
			s.mu.Unlock()
			return &ValidationError{Reason: fmt.Sprintf("page %d failed preparation: %v", p.Index, p.Err)}
		}
	}
	if pageIndex < 0 || pageIndex >= len(s.pages) {
		s.mu.Unlock()
		return &ValidationError{Reason: fmt.Sprintf("page %d out of range", pageIndex)}
	}

	upright, err := raster.EncodePNG(s.pages[pageIndex].Flatten())
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("flattening page %d: %w", pageIndex, err)
	}
	s.state = StateOCRPending
	s.submitted = pageIndex
	s.upright = upright
	s.mu.Unlock()

	cctx, cancel := s.sessionCtx(ctx)
	defer cancel()
	doc, err := extractor.Extract(cctx, upright, extraction.DocumentTypeAC21)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.superseded {
		return ErrStaleSession
	}
	if err != nil {
		failure := &OcrFailure{Err: err}
		s.fail(StateDraft, failure.Error())
		return failure
	}

	s.doc = doc
	s.selected = make([]bool, len(doc.Productos))
	for i := range s.selected {
		s.selected[i] = true
	}
	prefillTypes(ctx, catalog, doc)
	s.state = StateOCRResult
	return nil
}

// prefillTypes fills empty product types from the catalog. Best effort; a
// catalog failure never blocks the workflow.
func prefillTypes(ctx context.Context, catalog albaran.Catalog, doc *extraction.Document) {
	if catalog == nil {
		return
	}
	types, err := catalog.ProductTypes(ctx)
	if err != nil {
		slog.Warn("Failed to load product type catalog", "error", err)
		return
	}
	byCode := make(map[string]string, len(types))
	for _, t := range types {
		byCode[albaran.NormalizeCode(t.CodigoProducto)] = t.Tipo
	}
	for i := range doc.Productos {
		p := &doc.Productos[i]
		if p.Tipo != "" {
			continue
		}
		if tipo, ok := byCode[albaran.NormalizeCode(p.Codigo)]; ok {
			p.Tipo = tipo
		}
	}
}

// confirm validates the operator's product selection and probes the store
// for the document's registration number. No write happens here: with a
// FOUND result the session stays in IDENTITY_CHECK until the operator
// explicitly chooses append or merge.
func (s *Session) confirm(ctx context.Context, store albaran.Store, selected []int, tipos map[int]string) error {
	s.mu.Lock()
	if s.superseded {
		s.mu.Unlock()
		return ErrStaleSession
	}
	if s.state != StateOCRResult {
		s.mu.Unlock()
		return &ValidationError{Reason: fmt.Sprintf("cannot confirm from state %s", s.state)}
	}

	for idx, tipo := range tipos {
		if idx < 0 || idx >= len(s.doc.Productos) {
			s.mu.Unlock()
			return &ValidationError{Reason: fmt.Sprintf("type assignment for row %d out of range", idx)}
		}
		s.doc.Productos[idx].Tipo = strings.TrimSpace(tipo)
	}

	sel := make([]bool, len(s.doc.Productos))
	for _, idx := range selected {
		if idx < 0 || idx >= len(sel) {
			s.mu.Unlock()
			return &ValidationError{Reason: fmt.Sprintf("selected row %d out of range", idx)}
		}
		sel[idx] = true
	}
	count := 0
	for i, on := range sel {
		if !on {
			continue
		}
		count++
		if s.doc.Productos[i].Tipo == "" {
			s.mu.Unlock()
			return &ValidationError{Reason: fmt.Sprintf("selected row %d has no type assigned", i)}
		}
	}
	if count == 0 {
		s.mu.Unlock()
		return &ValidationError{Reason: "at least one product row must be selected"}
	}

	s.selected = sel
	s.state = StateIdentityCheck
	numero := RegistrationNumber(s.doc)
	s.mu.Unlock()

	cctx, cancel := s.sessionCtx(ctx)
	defer cancel()
	identity, err := ResolveIdentity(cctx, store, numero)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.superseded {
		return ErrStaleSession
	}
	if err != nil {
		s.fail(StateOCRResult, err.Error())
		return err
	}
	if !identity.Found {
		s.state = StateNewDocument
		s.decision = DecisionNewDocument
		return nil
	}
	s.existing = identity.Summary
	s.markers = FindDuplicates(identity.Summary.Products, s.doc.Productos)
	return nil
}

// choose records the operator's explicit decision against a found document.
func (s *Session) choose(decision Decision, keepDuplicates bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.superseded {
		return ErrStaleSession
	}
	if s.state != StateIdentityCheck {
		return &ValidationError{Reason: fmt.Sprintf("cannot decide from state %s", s.state)}
	}
	if s.existing == nil {
		return &ValidationError{Reason: "no existing document to decide against"}
	}
	switch decision {
	case DecisionAppendPage:
		s.state = StateAppendPage
	case DecisionMergeExisting:
		s.state = StateMergeExisting
	default:
		return &ValidationError{Reason: fmt.Sprintf("unknown decision %q", decision)}
	}
	s.decision = decision
	s.keepDuplicates = keepDuplicates
	return nil
}

// eligibleProducts returns the selected rows minus duplicate-flagged ones,
// unless the operator explicitly chose to keep duplicates.
func (s *Session) eligibleProducts() []albaran.Product {
	marked := markedIndexes(s.markers)
	out := make([]albaran.Product, 0, len(s.doc.Productos))
	for i, p := range s.doc.Productos {
		if !s.selected[i] {
			continue
		}
		if marked[i] && !s.keepDuplicates {
			continue
		}
		out = append(out, toAlbaranProduct(p))
	}
	return out
}

func toAlbaranProduct(p extraction.Product) albaran.Product {
	return albaran.Product{
		Codigo:         albaran.NormalizeCode(p.Codigo),
		Titulo:         p.Titulo,
		Cantidad:       p.Cantidad,
		NumeroSerie:    p.NumeroSerie(),
		NumeroSerieFin: p.NumeroSerieFin,
		CodigoContable: p.CodigoContable,
		Observaciones:  p.Observaciones,
		Tipo:           p.Tipo,
	}
}

func (s *Session) createPayload(productos []albaran.Product) albaran.CreatePayload {
	doc := s.doc
	fecha := doc.FechaSalida
	if fecha == "" {
		fecha = doc.FechaEntrada
	}
	payload := albaran.CreatePayload{
		NumeroRegistro:  RegistrationNumber(doc),
		TipoTransaccion: doc.TipoTransaccion,
		Fecha:           fecha,
		Productos:       productos,
	}
	if len(doc.EmpresaOrigen) > 0 {
		payload.EmpresaOrigen = doc.EmpresaOrigen[0].Nombre
	}
	if len(doc.EmpresaDestino) > 0 {
		payload.EmpresaDestino = doc.EmpresaDestino[0].Nombre
	}
	return payload
}

// persist executes the recorded decision against the store. A duplicate
// signal from the store on create is recovered automatically: duplicates
// are re-derived from the reported products and only the remaining subset
// is merged into the existing document, without redoing OCR.
func (s *Session) persist(ctx context.Context, store albaran.Store) error {
	s.mu.Lock()
	if s.superseded {
		s.mu.Unlock()
		return ErrStaleSession
	}
	if !s.state.terminalIntent() {
		s.mu.Unlock()
		return &ValidationError{Reason: fmt.Sprintf("cannot persist from state %s", s.state)}
	}
	intent := s.state
	s.state = StatePersisting
	productos := s.eligibleProducts()
	upright := s.upright
	payload := s.createPayload(productos)
	var existingID string
	if s.existing != nil {
		existingID = s.existing.ID
	}
	s.mu.Unlock()

	cctx, cancel := s.sessionCtx(ctx)
	defer cancel()

	var albaranID string
	var recovered bool
	var perr error

	switch intent {
	case StateNewDocument:
		albaranID, recovered, perr = s.persistNew(cctx, store, payload, upright)
	case StateAppendPage:
		perr = store.AppendPage(cctx, existingID, upright)
		if perr == nil {
			perr = store.MergeProducts(cctx, existingID, productos)
		}
		albaranID = existingID
	case StateMergeExisting:
		perr = store.MergeProducts(cctx, existingID, productos)
		albaranID = existingID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.superseded {
		return ErrStaleSession
	}
	if perr != nil {
		s.fail(intent, fmt.Sprintf("persisting document: %v", perr))
		return fmt.Errorf("persisting document: %w", perr)
	}
	s.albaranID = albaranID
	s.recovered = recovered
	s.state = StateDone
	s.lastGood = StateDone
	return nil
}

// persistNew creates a new document, routing a store-side duplicate signal
// into the merge path.
func (s *Session) persistNew(ctx context.Context, store albaran.Store, payload albaran.CreatePayload, upright []byte) (string, bool, error) {
	res, err := store.CreateDocument(ctx, payload, upright)
	if err != nil {
		return "", false, err
	}
	if !res.Duplicate {
		return res.AlbaranID, false, nil
	}

	conflict := &PersistenceConflict{AlbaranID: res.AlbaranID, Existing: res.ProductosExistentes}
	slog.Warn("Store reported duplicate registration, merging instead",
		"albaran_id", res.AlbaranID,
		"existing_products", len(res.ProductosExistentes),
	)

	s.mu.Lock()
	s.markers = FindDuplicates(res.ProductosExistentes, s.doc.Productos)
	s.keepDuplicates = false
	resend := s.eligibleProducts()
	s.mu.Unlock()

	if err := store.MergeProducts(ctx, res.AlbaranID, resend); err != nil {
		return "", false, fmt.Errorf("recovering from conflict (%s): %w", conflict, err)
	}
	return res.AlbaranID, true, nil
}

// retry returns a failed session to its last good state. Prepared pages
// and extracted fields are preserved.
func (s *Session) retry() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.superseded {
		return ErrStaleSession
	}
	if s.state != StateFailed {
		return &ValidationError{Reason: fmt.Sprintf("cannot retry from state %s", s.state)}
	}
	s.state = s.lastGood
	s.failMsg = ""
	return nil
}

// croppedPage exports the flattened page trimmed to its content box, for
// debugging and quality review.
func (s *Session) croppedPage(pageIndex int, preset raster.CropPreset) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.superseded {
		return nil, ErrStaleSession
	}
	if pageIndex < 0 || pageIndex >= len(s.pages) {
		return nil, &ValidationError{Reason: fmt.Sprintf("page %d out of range", pageIndex)}
	}
	page := s.pages[pageIndex]
	if page.Err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("page %d failed preparation: %v", pageIndex, page.Err)}
	}
	return raster.EncodePNG(raster.CropContent(page.Flatten(), preset))
}

// PageView describes one prepared page for API clients.
type PageView struct {
	Index    int    `json:"index"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Rotation int    `json:"rotation"`
	Error    string `json:"error,omitempty"`
}

// View is the API projection of a session.
type View struct {
	ID        string                           `json:"id"`
	State     string                           `json:"state"`
	LastGood  string                           `json:"last_good_state"`
	Error     string                           `json:"error,omitempty"`
	PageCount int                              `json:"page_count"`
	Pages     []PageView                       `json:"pages"`
	Document  *extraction.Document             `json:"document,omitempty"`
	Selected  []int                            `json:"selected,omitempty"`
	Markers   []DuplicateMarker                `json:"duplicate_markers"`
	Existing  *albaran.ExistingDocumentSummary `json:"existing_document,omitempty"`
	Decision  Decision                         `json:"decision,omitempty"`
	AlbaranID string                           `json:"albaran_id,omitempty"`
	Recovered bool                             `json:"conflict_recovered,omitempty"`
}

func (s *Session) snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := View{
		ID:        s.id,
		State:     s.state.String(),
		LastGood:  s.lastGood.String(),
		Error:     s.failMsg,
		PageCount: len(s.pages),
		Document:  s.doc,
		Markers:   s.markers,
		Existing:  s.existing,
		Decision:  s.decision,
		AlbaranID: s.albaranID,
		Recovered: s.recovered,
	}
	if view.Markers == nil {
		view.Markers = []DuplicateMarker{}
	}
	for _, p := range s.pages {
		pv := PageView{Index: p.Index, Rotation: int(p.Delta)}
		if p.Err != nil {
			pv.Error = p.Err.Error()
		} else {
			b := p.Image.Bounds()
			pv.Width, pv.Height = b.Dx(), b.Dy()
		}
		view.Pages = append(view.Pages, pv)
	}
	for i, on := range s.selected {
		if on {
			view.Selected = append(view.Selected, i)
		}
	}
	return view
}

// Manager owns the single active capture session. Beginning a new capture
// supersedes the previous one, so late results from abandoned sessions can
// never overwrite the new session's state.
type Manager struct {
	mu          sync.Mutex
	active      *Session
	extractor   extraction.Extractor
	db          albaran.DB
	idGenerator albaran.IDGenerator
}

// NewManager creates a Manager wired to the extractor and database.
func NewManager(extractor extraction.Extractor, db albaran.DB) *Manager {
	return NewManagerWithDeps(extractor, db, nil)
}

// NewManagerWithDeps creates a Manager with a custom ID generator for testing.
func NewManagerWithDeps(extractor extraction.Extractor, db albaran.DB, idGen albaran.IDGenerator) *Manager {
	return &Manager{extractor: extractor, db: db, idGenerator: idGen}
}

func (m *Manager) nextID() string {
	if m.idGenerator != nil {
		return m.idGenerator.Generate()
	}
	return fmt.Sprintf("cap-%d", sessionCounter.Add(1))
}

// Begin validates the upload, rasterizes every page, and installs the new
// session as the active one. All pages are prepared before Begin returns,
// so a later OCR submission can never race an in-flight rasterization.
func (m *Manager) Begin(ctx context.Context, data []byte, contentType string) (*Session, error) {
	source, err := raster.NewSource(data, contentType)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(context.Background())
	sess := &Session{
		id:     m.nextID(),
		ctx:    sctx,
		cancel: cancel,
		state:  StateDraft,
		source: source,
		pages:  make([]*raster.PreparedPage, source.PageCount),
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(rasterWorkers)
	for i := 0; i < source.PageCount; i++ {
		page := &raster.PreparedPage{Index: i}
		sess.pages[i] = page
		g.Go(func() error {
			img, err := source.RenderPage(page.Index, raster.TargetShortEdge)
			if err != nil {
				// Local to this page; other pages keep rendering.
				page.Err = err
				slog.Error("Failed to rasterize page", "page", page.Index, "error", err)
				return nil
			}
			page.Image = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		cancel()
		return nil, err
	}

	m.mu.Lock()
	if m.active != nil {
		m.active.supersede()
	}
	m.active = sess
	m.mu.Unlock()

	slog.Info("Capture session started", "session", sess.id, "pages", source.PageCount, "kind", source.MIME)
	return sess, nil
}

// session resolves an ID against the active session; anything else is stale.
func (m *Manager) session(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil || m.active.id != id {
		return nil, ErrStaleSession
	}
	return m.active, nil
}

// Rotate applies a rotation delta to one page of the session.
func (m *Manager) Rotate(id string, pageIndex, delta int) error {
	sess, err := m.session(id)
	if err != nil {
		return err
	}
	return sess.rotate(pageIndex, delta)
}

// Submit runs OCR extraction on one page of the session.
func (m *Manager) Submit(ctx context.Context, id string, pageIndex int) error {
	sess, err := m.session(id)
	if err != nil {
		return err
	}
	return sess.submit(ctx, m.extractor, m.db, pageIndex)
}

// Confirm validates the selection and resolves document identity.
func (m *Manager) Confirm(ctx context.Context, id string, selected []int, tipos map[int]string) error {
	sess, err := m.session(id)
	if err != nil {
		return err
	}
	return sess.confirm(ctx, m.db, selected, tipos)
}

// Choose records the operator's append/merge decision.
func (m *Manager) Choose(id string, decision Decision, keepDuplicates bool) error {
	sess, err := m.session(id)
	if err != nil {
		return err
	}
	return sess.choose(decision, keepDuplicates)
}

// Persist executes the session's decision against the store.
func (m *Manager) Persist(ctx context.Context, id string) error {
	sess, err := m.session(id)
	if err != nil {
		return err
	}
	return sess.persist(ctx, m.db)
}

// Retry returns a failed session to its last good state.
func (m *Manager) Retry(id string) error {
	sess, err := m.session(id)
	if err != nil {
		return err
	}
	return sess.retry()
}

// Snapshot returns the API projection of the session.
func (m *Manager) Snapshot(id string) (View, error) {
	sess, err := m.session(id)
	if err != nil {
		return View{}, err
	}
	return sess.snapshot(), nil
}

// CroppedPage exports a content-cropped page image for quality review.
func (m *Manager) CroppedPage(id string, pageIndex int, preset raster.CropPreset) ([]byte, error) {
	sess, err := m.session(id)
	if err != nil {
		return nil, err
	}
	return sess.croppedPage(pageIndex, preset)
}
