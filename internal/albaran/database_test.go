package albaran

import (
	"context"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("BoltDB", func() {
	var (
		ctx     context.Context
		db      *BoltDB
		storage *LocalStorage
		now     time.Time
	)

	payload := func(numero string) CreatePayload {
		return CreatePayload{
			NumeroRegistro:  numero,
			TipoTransaccion: "ENTREGA",
			Fecha:           "2024-03-05",
			EmpresaOrigen:   "Origen S.A.",
			EmpresaDestino:  "Destino S.L.",
			Productos: []Product{
				{Codigo: "CRYPTO-A", Titulo: "Cifrador A", Cantidad: 1, Tipo: "CIFRADOR"},
				{Codigo: "CRYPTO-B", Titulo: "Cifrador B", Cantidad: 2, NumeroSerie: "456", Tipo: "CIFRADOR"},
			},
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

		dir := GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(dir)
		Expect(err).NotTo(HaveOccurred())

		db, err = NewBoltDBWithDeps(filepath.Join(dir, "test.db"), storage,
			&stubIDGenerator{}, &stubTimeSource{now: now})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(db.Close()).To(Succeed())
	})

	Describe("CreateDocument", func() {
		It("persists the document with its first page scan", func() {
			res, err := db.CreateDocument(ctx, payload("SAL-100"), []byte("page bytes"))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Success).To(BeTrue())
			Expect(res.Duplicate).To(BeFalse())
			Expect(res.AlbaranID).To(Equal("doc-1"))

			doc, err := db.GetDocument(ctx, "doc-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.NumeroRegistro).To(Equal("SAL-100"))
			Expect(doc.Productos).To(HaveLen(2))
			Expect(doc.Pages).To(Equal([]string{"doc-1_page_1.png"}))
			Expect(doc.CreatedAt).To(Equal(now))

			data, err := storage.Get(doc.Pages[0])
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("page bytes")))
		})

		It("signals a registration collision instead of erroring", func() {
			_, err := db.CreateDocument(ctx, payload("SAL-100"), []byte("p1"))
			Expect(err).NotTo(HaveOccurred())

			res, err := db.CreateDocument(ctx, payload("SAL-100"), []byte("p2"))
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Success).To(BeFalse())
			Expect(res.Duplicate).To(BeTrue())
			Expect(res.AlbaranID).To(Equal("doc-1"))
			Expect(res.ProductosExistentes).To(ConsistOf(
				ProductRef{Codigo: "CRYPTO-A"},
				ProductRef{Codigo: "CRYPTO-B", NumeroSerie: "456"},
			))
		})

		It("allows multiple documents without a registration number", func() {
			res1, err := db.CreateDocument(ctx, payload(""), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(res1.Success).To(BeTrue())

			res2, err := db.CreateDocument(ctx, payload(""), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(res2.Success).To(BeTrue())
			Expect(res2.AlbaranID).NotTo(Equal(res1.AlbaranID))
		})
	})

	Describe("DocumentExistsByRegistration", func() {
		It("returns nil for an unknown number", func() {
			summary, err := db.DocumentExistsByRegistration(ctx, "SAL-404")
			Expect(err).NotTo(HaveOccurred())
			Expect(summary).To(BeNil())
		})

		It("matches numbers regardless of case and spacing", func() {
			_, err := db.CreateDocument(ctx, payload("SAL 100"), nil)
			Expect(err).NotTo(HaveOccurred())

			summary, err := db.DocumentExistsByRegistration(ctx, "  sal   100 ")
			Expect(err).NotTo(HaveOccurred())
			Expect(summary).NotTo(BeNil())
			Expect(summary.ID).To(Equal("doc-1"))
			Expect(summary.NumeroRegistro).To(Equal("SAL 100"))
			Expect(summary.PageCount).To(Equal(0))
			Expect(summary.Products).To(HaveLen(2))
		})
	})

	Describe("ProductsForDocument", func() {
		It("returns the registered product refs", func() {
			_, err := db.CreateDocument(ctx, payload("SAL-100"), nil)
			Expect(err).NotTo(HaveOccurred())

			refs, numero, err := db.ProductsForDocument(ctx, "SAL-100")
			Expect(err).NotTo(HaveOccurred())
			Expect(numero).To(Equal("SAL-100"))
			Expect(refs).To(HaveLen(2))
		})

		It("errors for an unknown number", func() {
			_, _, err := db.ProductsForDocument(ctx, "SAL-404")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("MergeProducts", func() {
		BeforeEach(func() {
			_, err := db.CreateDocument(ctx, payload("SAL-100"), nil)
			Expect(err).NotTo(HaveOccurred())
		})

		It("adds only products not already registered", func() {
			err := db.MergeProducts(ctx, "doc-1", []Product{
				{Codigo: "CRYPTO-A", Tipo: "CIFRADOR"},
				{Codigo: "CRYPTO-C", Tipo: "CIFRADOR"},
			})
			Expect(err).NotTo(HaveOccurred())

			doc, err := db.GetDocument(ctx, "doc-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.Productos).To(HaveLen(3))
		})

		It("is idempotent", func() {
			add := []Product{{Codigo: "CRYPTO-C", Tipo: "CIFRADOR"}}
			Expect(db.MergeProducts(ctx, "doc-1", add)).To(Succeed())
			Expect(db.MergeProducts(ctx, "doc-1", add)).To(Succeed())

			doc, err := db.GetDocument(ctx, "doc-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.Productos).To(HaveLen(3))
		})

		It("treats the same code with a different serial as new", func() {
			err := db.MergeProducts(ctx, "doc-1", []Product{
				{Codigo: "CRYPTO-B", NumeroSerie: "789", Tipo: "CIFRADOR"},
			})
			Expect(err).NotTo(HaveOccurred())

			doc, err := db.GetDocument(ctx, "doc-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.Productos).To(HaveLen(3))
		})

		It("errors for an unknown document", func() {
			err := db.MergeProducts(ctx, "doc-404", []Product{{Codigo: "X"}})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("AppendPage", func() {
		BeforeEach(func() {
			_, err := db.CreateDocument(ctx, payload("SAL-100"), []byte("page one"))
			Expect(err).NotTo(HaveOccurred())
		})

		It("stores the scan and records its path", func() {
			Expect(db.AppendPage(ctx, "doc-1", []byte("page two"))).To(Succeed())

			doc, err := db.GetDocument(ctx, "doc-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.Pages).To(Equal([]string{"doc-1_page_1.png", "doc-1_page_2.png"}))

			data, err := storage.Get("doc-1_page_2.png")
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("page two")))
		})

		It("errors for an unknown document", func() {
			Expect(db.AppendPage(ctx, "doc-404", []byte("x"))).To(HaveOccurred())
		})
	})

	Describe("DeleteDocument", func() {
		It("removes the document and frees its registration number", func() {
			_, err := db.CreateDocument(ctx, payload("SAL-100"), nil)
			Expect(err).NotTo(HaveOccurred())

			Expect(db.DeleteDocument(ctx, "doc-1")).To(Succeed())

			_, err = db.GetDocument(ctx, "doc-1")
			Expect(err).To(HaveOccurred())

			summary, err := db.DocumentExistsByRegistration(ctx, "SAL-100")
			Expect(err).NotTo(HaveOccurred())
			Expect(summary).To(BeNil())
		})
	})

	Describe("ListDocuments", func() {
		It("returns every stored document", func() {
			_, err := db.CreateDocument(ctx, payload("SAL-100"), nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = db.CreateDocument(ctx, payload("SAL-200"), nil)
			Expect(err).NotTo(HaveOccurred())

			docs, err := db.ListDocuments(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(docs).To(HaveLen(2))
		})
	})

	Describe("product type catalog", func() {
		It("stores entries under normalized codes", func() {
			err := db.PutProductTypes(ctx, []ProductType{
				{CodigoProducto: "  ky   57 ", Tipo: "CIFRADOR"},
			})
			Expect(err).NotTo(HaveOccurred())

			types, err := db.ProductTypes(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(types).To(ConsistOf(ProductType{CodigoProducto: "KY 57", Tipo: "CIFRADOR"}))
		})

		It("overwrites an existing entry for the same code", func() {
			Expect(db.PutProductTypes(ctx, []ProductType{{CodigoProducto: "KY 57", Tipo: "CIFRADOR"}})).To(Succeed())
			Expect(db.PutProductTypes(ctx, []ProductType{{CodigoProducto: "ky 57", Tipo: "ACCESORIO"}})).To(Succeed())

			types, err := db.ProductTypes(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(types).To(ConsistOf(ProductType{CodigoProducto: "KY 57", Tipo: "ACCESORIO"}))
		})
	})
})
