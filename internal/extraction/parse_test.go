package extraction

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("parseDocumentJSON", func() {
	When("the model returns a bare document object", func() {
		It("parses it", func() {
			doc, err := parseDocumentJSON(`{"numero_registro_entrada": "ENT-001", "tipo_transaccion": "ENTREGA"}`)
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.NumeroRegistroEntrada).To(Equal("ENT-001"))
			Expect(doc.TipoTransaccion).To(Equal("ENTREGA"))
		})
	})

	When("the response is wrapped in markdown fences", func() {
		It("strips the fences before parsing", func() {
			doc, err := parseDocumentJSON("```json\n{\"numero_registro_salida\": \"SAL-100\"}\n```")
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.NumeroRegistroSalida).To(Equal("SAL-100"))
		})
	})

	When("the response has prose around the object", func() {
		It("extracts the object between the outermost braces", func() {
			doc, err := parseDocumentJSON(`Here is the extraction: {"numero_registro_entrada": "ENT-002"} Hope it helps!`)
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.NumeroRegistroEntrada).To(Equal("ENT-002"))
		})
	})

	When("the document comes wrapped in a gateway envelope", func() {
		It("unwraps the data field", func() {
			doc, err := parseDocumentJSON(`{"success": true, "data": {"numero_registro_entrada": "ENT-003"}}`)
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.NumeroRegistroEntrada).To(Equal("ENT-003"))
		})

		It("fails when the envelope reports failure", func() {
			_, err := parseDocumentJSON(`{"success": false, "data": null}`)
			Expect(err).To(HaveOccurred())
		})
	})

	When("the response contains no JSON object", func() {
		It("returns an error", func() {
			_, err := parseDocumentJSON("I could not read the document, sorry.")
			Expect(err).To(HaveOccurred())
		})
	})

	When("the JSON is malformed", func() {
		It("returns an error", func() {
			_, err := parseDocumentJSON(`{"numero_registro_entrada": `)
			Expect(err).To(HaveOccurred())
		})
	})

	When("fields carry the sentinel value", func() {
		It("clears them during parsing", func() {
			doc, err := parseDocumentJSON(`{"numero_registro_entrada": "N/A", "numero_registro_salida": "SAL-100"}`)
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.NumeroRegistroEntrada).To(BeEmpty())
			Expect(doc.NumeroRegistroSalida).To(Equal("SAL-100"))
		})
	})
})

var _ = Describe("IsPlaceholder", func() {
	It("treats empty and whitespace-only values as placeholders", func() {
		Expect(IsPlaceholder("", "ENTREGA")).To(BeTrue())
		Expect(IsPlaceholder("   ", "ENTREGA")).To(BeTrue())
	})

	It("treats the sentinel as a placeholder regardless of case", func() {
		Expect(IsPlaceholder("N/A", "ENTREGA")).To(BeTrue())
		Expect(IsPlaceholder("n/a", "ENTREGA")).To(BeTrue())
	})

	It("treats an echo of the transaction type as a placeholder", func() {
		Expect(IsPlaceholder("ENTREGA", "ENTREGA")).To(BeTrue())
		Expect(IsPlaceholder("entrega", "ENTREGA")).To(BeTrue())
	})

	It("accepts genuine registration numbers", func() {
		Expect(IsPlaceholder("ENT-2024-001", "ENTREGA")).To(BeFalse())
	})

	It("never matches an echo when the transaction type is empty", func() {
		Expect(IsPlaceholder("ENTREGA", "")).To(BeFalse())
	})
})

var _ = Describe("CleanDocument", func() {
	When("the model echoes the transaction type into registration fields", func() {
		It("clears the echoed fields", func() {
			doc := &Document{
				NumeroRegistroEntrada: "DEVOLUCION",
				NumeroRegistroSalida:  "SAL-200",
				TipoTransaccion:       "DEVOLUCION",
			}
			CleanDocument(doc)
			Expect(doc.NumeroRegistroEntrada).To(BeEmpty())
			Expect(doc.NumeroRegistroSalida).To(Equal("SAL-200"))
		})
	})

	When("only the exit registration is present", func() {
		It("does not back-fill the entry registration", func() {
			doc := &Document{NumeroRegistroSalida: "SAL-300"}
			CleanDocument(doc)
			Expect(doc.NumeroRegistroEntrada).To(BeEmpty())
			Expect(doc.NumeroRegistroSalida).To(Equal("SAL-300"))
		})
	})

	When("products carry sentinel fields", func() {
		It("clears them and trims codes", func() {
			doc := &Document{
				Productos: []Product{
					{Codigo: "  CRYPTO-A ", NumeroSerieInicio: "N/A", Observaciones: "N/A"},
				},
			}
			CleanDocument(doc)
			Expect(doc.Productos[0].Codigo).To(Equal("CRYPTO-A"))
			Expect(doc.Productos[0].NumeroSerieInicio).To(BeEmpty())
			Expect(doc.Productos[0].Observaciones).To(BeEmpty())
		})
	})

	When("companies carry sentinel fields", func() {
		It("clears them", func() {
			doc := &Document{
				EmpresaOrigen:  []Company{{Nombre: "ACME S.A.", CIF: "N/A"}},
				EmpresaDestino: []Company{{Nombre: "n/a"}},
			}
			CleanDocument(doc)
			Expect(doc.EmpresaOrigen[0].Nombre).To(Equal("ACME S.A."))
			Expect(doc.EmpresaOrigen[0].CIF).To(BeEmpty())
			Expect(doc.EmpresaDestino[0].Nombre).To(BeEmpty())
		})
	})
})
