package albaran

import (
	"context"
	"strings"
	"time"
)

// Product is one registered line item of a persisted AC21 document.
type Product struct {
	Codigo         string `json:"codigo"`
	Titulo         string `json:"titulo"`
	Cantidad       int    `json:"cantidad"`
	NumeroSerie    string `json:"numero_serie"`
	NumeroSerieFin string `json:"numero_serie_fin,omitempty"`
	CodigoContable string `json:"codigo_contable,omitempty"`
	Observaciones  string `json:"observaciones,omitempty"`
	Tipo           string `json:"tipo"`
}

// ProductRef identifies a registered product for duplicate comparison.
type ProductRef struct {
	Codigo      string `json:"codigo"`
	NumeroSerie string `json:"numero_serie"`
}

// Document is a persisted AC21 transfer document.
type Document struct {
	ID              string    `json:"id"`
	NumeroRegistro  string    `json:"numero_registro"`
	TipoTransaccion string    `json:"tipo_transaccion"`
	Fecha           string    `json:"fecha"`
	EmpresaOrigen   string    `json:"empresa_origen"`
	EmpresaDestino  string    `json:"empresa_destino"`
	Productos       []Product `json:"productos"`
	Pages           []string  `json:"pages"` // storage paths of page scans
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// PageCount returns the number of scanned pages attached to the document.
func (d *Document) PageCount() int {
	return len(d.Pages)
}

// Refs projects the registered products for duplicate comparison.
func (d *Document) Refs() []ProductRef {
	refs := make([]ProductRef, 0, len(d.Productos))
	for _, p := range d.Productos {
		refs = append(refs, ProductRef{Codigo: p.Codigo, NumeroSerie: p.NumeroSerie})
	}
	return refs
}

// Summary is the read-only projection handed to the capture workflow for
// comparison. It is never mutated by the workflow.
func (d *Document) Summary() *ExistingDocumentSummary {
	return &ExistingDocumentSummary{
		ID:             d.ID,
		NumeroRegistro: d.NumeroRegistro,
		PageCount:      d.PageCount(),
		Products:       d.Refs(),
		EmpresaOrigen:  d.EmpresaOrigen,
		EmpresaDestino: d.EmpresaDestino,
	}
}

// ExistingDocumentSummary is the projection of a previously persisted
// document used during identity resolution.
type ExistingDocumentSummary struct {
	ID             string       `json:"id"`
	NumeroRegistro string       `json:"numero_registro"`
	PageCount      int          `json:"page_count"`
	Products       []ProductRef `json:"productos"`
	EmpresaOrigen  string       `json:"empresa_origen"`
	EmpresaDestino string       `json:"empresa_destino"`
}

// ProductType maps a product code to its classification, used only to
// pre-fill the type field of extracted products.
type ProductType struct {
	CodigoProducto string `json:"codigo_producto"`
	Tipo           string `json:"tipo"`
}

// CreatePayload is the document to persist at the end of a capture.
type CreatePayload struct {
	NumeroRegistro  string    `json:"numero_registro"`
	TipoTransaccion string    `json:"tipo_transaccion"`
	Fecha           string    `json:"fecha"`
	EmpresaOrigen   string    `json:"empresa_origen"`
	EmpresaDestino  string    `json:"empresa_destino"`
	Productos       []Product `json:"productos"`
}

// CreateResult reports the outcome of CreateDocument. Duplicate carries the
// store's own uniqueness signal: the registration number already exists and
// ProductosExistentes lists what is registered against it.
type CreateResult struct {
	Success             bool         `json:"success"`
	Duplicate           bool         `json:"duplicate,omitempty"`
	ProductosExistentes []ProductRef `json:"productos_existentes,omitempty"`
	AlbaranID           string       `json:"albaran_id,omitempty"`
	Message             string       `json:"message,omitempty"`
}

// Store is the persistence surface the capture workflow writes through.
type Store interface {
	// DocumentExistsByRegistration returns the summary of the document
	// registered under the number, or nil when none exists.
	DocumentExistsByRegistration(ctx context.Context, numero string) (*ExistingDocumentSummary, error)

	// ProductsForDocument returns the registered products and the document
	// number for a registration number.
	ProductsForDocument(ctx context.Context, numero string) ([]ProductRef, string, error)

	// AppendPage attaches a scanned page to an existing document.
	AppendPage(ctx context.Context, parentID string, page []byte) error

	// MergeProducts adds products to an existing document, skipping entries
	// already registered under the same (code, serial). Idempotent.
	MergeProducts(ctx context.Context, documentID string, productos []Product) error

	// CreateDocument persists a new document with its first page scan. A
	// registration-number collision is reported via CreateResult.Duplicate,
	// not as an error.
	CreateDocument(ctx context.Context, payload CreatePayload, page []byte) (*CreateResult, error)
}

// Catalog provides product classifications for type pre-fill. Not
// authoritative for reconciliation.
type Catalog interface {
	ProductTypes(ctx context.Context) ([]ProductType, error)
}

// DB is the full database surface: the workflow-facing Store plus the
// CRUD operations the HTTP layer serves.
type DB interface {
	Store
	Catalog

	GetDocument(ctx context.Context, id string) (*Document, error)
	ListDocuments(ctx context.Context) ([]*Document, error)
	DeleteDocument(ctx context.Context, id string) error
	PutProductTypes(ctx context.Context, types []ProductType) error
	Close() error
}

// NormalizeCode derives the canonical form of a product code: trimmed,
// uppercased, internal whitespace collapsed. Idempotent.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.Join(strings.Fields(code), " "))
}
