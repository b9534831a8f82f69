package albaran

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	documentBucketName = "albaranes"
	registroBucketName = "registro_index"
	typeBucketName     = "tipos_producto"
)

// IDGenerator generates unique IDs for documents
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates IDs using UnixNano timestamp
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// BoltDB implements the DB interface using BoltDB. The registro_index
// bucket maps normalized registration numbers to document IDs and backs
// the server-side duplicate signal.
type BoltDB struct {
	db          *bbolt.DB
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewBoltDB creates a new BoltDB instance. Page scans are written through
// the given storage; the database holds only their paths.
func NewBoltDB(path string, storage Storage) (*BoltDB, error) {
	return NewBoltDBWithDeps(path, storage, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewBoltDBWithDeps creates a BoltDB with custom dependencies for testing.
func NewBoltDBWithDeps(path string, storage Storage, idGen IDGenerator, timeSrc TimeSource) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{documentBucketName, registroBucketName, typeBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db, storage: storage, idGenerator: idGen, timeSource: timeSrc}, nil
}

func registroKey(numero string) []byte {
	return []byte(NormalizeCode(numero))
}

func (b *BoltDB) getDocumentTx(tx *bbolt.Tx, id string) (*Document, error) {
	data := tx.Bucket([]byte(documentBucketName)).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("document not found: %s", id)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshaling document: %w", err)
	}
	return &doc, nil
}

func (b *BoltDB) putDocumentTx(tx *bbolt.Tx, doc *Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling document: %w", err)
	}
	return tx.Bucket([]byte(documentBucketName)).Put([]byte(doc.ID), data)
}

func (b *BoltDB) byRegistrationTx(tx *bbolt.Tx, numero string) (*Document, error) {
	id := tx.Bucket([]byte(registroBucketName)).Get(registroKey(numero))
	if id == nil {
		return nil, nil
	}
	return b.getDocumentTx(tx, string(id))
}

// DocumentExistsByRegistration returns the summary for a registration
// number, or nil when no document carries it.
func (b *BoltDB) DocumentExistsByRegistration(ctx context.Context, numero string) (*ExistingDocumentSummary, error) {
	var summary *ExistingDocumentSummary
	err := b.db.View(func(tx *bbolt.Tx) error {
		doc, err := b.byRegistrationTx(tx, numero)
		if err != nil {
			return err
		}
		if doc != nil {
			summary = doc.Summary()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// ProductsForDocument returns the registered products for a registration number.
func (b *BoltDB) ProductsForDocument(ctx context.Context, numero string) ([]ProductRef, string, error) {
	var refs []ProductRef
	var docNumero string
	err := b.db.View(func(tx *bbolt.Tx) error {
		doc, err := b.byRegistrationTx(tx, numero)
		if err != nil {
			return err
		}
		if doc == nil {
			return fmt.Errorf("no document registered under %s", numero)
		}
		refs = doc.Refs()
		docNumero = doc.NumeroRegistro
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return refs, docNumero, nil
}

// AppendPage attaches a scanned page to an existing document.
func (b *BoltDB) AppendPage(ctx context.Context, parentID string, page []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		doc, err := b.getDocumentTx(tx, parentID)
		if err != nil {
			return err
		}
		name := fmt.Sprintf("%s_page_%d.png", doc.ID, doc.PageCount()+1)
		path, err := b.storage.Save(name, page)
		if err != nil {
			return fmt.Errorf("saving page scan: %w", err)
		}
		doc.Pages = append(doc.Pages, path)
		doc.UpdatedAt = b.timeSource.Now()
		return b.putDocumentTx(tx, doc)
	})
}

// MergeProducts adds products to a document, skipping entries already
// registered under the same normalized code and serial.
func (b *BoltDB) MergeProducts(ctx context.Context, documentID string, productos []Product) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		doc, err := b.getDocumentTx(tx, documentID)
		if err != nil {
			return err
		}
		registered := make(map[[2]string]bool, len(doc.Productos))
		for _, p := range doc.Productos {
			registered[[2]string{NormalizeCode(p.Codigo), p.NumeroSerie}] = true
		}
		changed := false
		for _, p := range productos {
			key := [2]string{NormalizeCode(p.Codigo), p.NumeroSerie}
			if registered[key] {
				continue
			}
			registered[key] = true
			doc.Productos = append(doc.Productos, p)
			changed = true
		}
		if !changed {
			return nil
		}
		doc.UpdatedAt = b.timeSource.Now()
		return b.putDocumentTx(tx, doc)
	})
}

// CreateDocument persists a new document. If the registration number is
// already taken the collision is reported via CreateResult.Duplicate with
// the registered products, so the caller can route into the merge path.
func (b *BoltDB) CreateDocument(ctx context.Context, payload CreatePayload, page []byte) (*CreateResult, error) {
	var result *CreateResult
	err := b.db.Update(func(tx *bbolt.Tx) error {
		if payload.NumeroRegistro != "" {
			existing, err := b.byRegistrationTx(tx, payload.NumeroRegistro)
			if err != nil {
				return err
			}
			if existing != nil {
				result = &CreateResult{
					Duplicate:           true,
					ProductosExistentes: existing.Refs(),
					AlbaranID:           existing.ID,
					Message:             fmt.Sprintf("registration number %s already exists", payload.NumeroRegistro),
				}
				return nil
			}
		}

		now := b.timeSource.Now()
		doc := &Document{
			ID:              b.idGenerator.Generate(),
			NumeroRegistro:  payload.NumeroRegistro,
			TipoTransaccion: payload.TipoTransaccion,
			Fecha:           payload.Fecha,
			EmpresaOrigen:   payload.EmpresaOrigen,
			EmpresaDestino:  payload.EmpresaDestino,
			Productos:       payload.Productos,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if page != nil {
			name := fmt.Sprintf("%s_page_1.png", doc.ID)
			path, err := b.storage.Save(name, page)
			if err != nil {
				return fmt.Errorf("saving page scan: %w", err)
			}
			doc.Pages = []string{path}
		}
		if err := b.putDocumentTx(tx, doc); err != nil {
			return err
		}
		if doc.NumeroRegistro != "" {
			if err := tx.Bucket([]byte(registroBucketName)).Put(registroKey(doc.NumeroRegistro), []byte(doc.ID)); err != nil {
				return err
			}
		}
		result = &CreateResult{Success: true, AlbaranID: doc.ID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetDocument retrieves a document by ID
func (b *BoltDB) GetDocument(ctx context.Context, id string) (*Document, error) {
	var doc *Document
	err := b.db.View(func(tx *bbolt.Tx) error {
		d, err := b.getDocumentTx(tx, id)
		if err != nil {
			return err
		}
		doc = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ListDocuments returns all documents
func (b *BoltDB) ListDocuments(ctx context.Context) ([]*Document, error) {
	documents := make([]*Document, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(documentBucketName)).ForEach(func(k, v []byte) error {
			var doc Document
			if err := json.Unmarshal(v, &doc); err != nil {
				return fmt.Errorf("unmarshaling document: %w", err)
			}
			documents = append(documents, &doc)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return documents, nil
}

// DeleteDocument removes a document and its registration index entry.
// Stored page files are left for the caller to clean up via Storage.
func (b *BoltDB) DeleteDocument(ctx context.Context, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		doc, err := b.getDocumentTx(tx, id)
		if err != nil {
			return err
		}
		if doc.NumeroRegistro != "" {
			if err := tx.Bucket([]byte(registroBucketName)).Delete(registroKey(doc.NumeroRegistro)); err != nil {
				return err
			}
		}
		return tx.Bucket([]byte(documentBucketName)).Delete([]byte(id))
	})
}

// ProductTypes returns the product-type catalog.
func (b *BoltDB) ProductTypes(ctx context.Context) ([]ProductType, error) {
	types := make([]ProductType, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(typeBucketName)).ForEach(func(k, v []byte) error {
			types = append(types, ProductType{CodigoProducto: string(k), Tipo: string(v)})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return types, nil
}

// PutProductTypes stores catalog entries keyed by normalized product code.
func (b *BoltDB) PutProductTypes(ctx context.Context, types []ProductType) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(typeBucketName))
		for _, t := range types {
			if err := bucket.Put([]byte(NormalizeCode(t.CodigoProducto)), []byte(t.Tipo)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
