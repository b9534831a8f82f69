package capture

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/David-Pajuelo/thot-security-sub001/internal/albaran"
	"github.com/David-Pajuelo/thot-security-sub001/internal/extraction"
)

var _ = Describe("RegistrationNumber", func() {
	It("prefers the entry number when both are present", func() {
		doc := &extraction.Document{
			NumeroRegistroEntrada: "ENT-001",
			NumeroRegistroSalida:  "SAL-001",
		}
		Expect(RegistrationNumber(doc)).To(Equal("ENT-001"))
	})

	It("falls back to the exit number when the entry is a placeholder", func() {
		doc := &extraction.Document{
			NumeroRegistroEntrada: "N/A",
			NumeroRegistroSalida:  "SAL-002",
		}
		Expect(RegistrationNumber(doc)).To(Equal("SAL-002"))
	})

	It("falls back when the entry number echoes the transaction type", func() {
		doc := &extraction.Document{
			NumeroRegistroEntrada: "ENTREGA",
			NumeroRegistroSalida:  "SAL-003",
			TipoTransaccion:       "ENTREGA",
		}
		Expect(RegistrationNumber(doc)).To(Equal("SAL-003"))
	})

	It("returns empty when both numbers are placeholders", func() {
		doc := &extraction.Document{
			NumeroRegistroEntrada: "N/A",
			NumeroRegistroSalida:  "",
		}
		Expect(RegistrationNumber(doc)).To(BeEmpty())
	})
})

var _ = Describe("ResolveIdentity", func() {
	var db *mockDB

	BeforeEach(func() {
		db = &mockDB{}
	})

	When("the number is empty", func() {
		It("resolves to not-found without touching the store", func() {
			identity, err := ResolveIdentity(context.Background(), db, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(identity.Found).To(BeFalse())
		})
	})

	When("no document carries the number", func() {
		It("resolves to not-found", func() {
			identity, err := ResolveIdentity(context.Background(), db, "SAL-100")
			Expect(err).NotTo(HaveOccurred())
			Expect(identity.Found).To(BeFalse())
			Expect(identity.Summary).To(BeNil())
		})
	})

	When("a document carries the number", func() {
		It("returns its summary", func() {
			db.summary = &albaran.ExistingDocumentSummary{ID: "alb-7", NumeroRegistro: "SAL-100"}
			identity, err := ResolveIdentity(context.Background(), db, "SAL-100")
			Expect(err).NotTo(HaveOccurred())
			Expect(identity.Found).To(BeTrue())
			Expect(identity.Summary.ID).To(Equal("alb-7"))
		})
	})

	When("the store is unreachable", func() {
		It("wraps the error as a lookup failure", func() {
			db.lookupErr = errors.New("connection refused")
			_, err := ResolveIdentity(context.Background(), db, "SAL-100")
			var failure *IdentityLookupFailure
			Expect(errors.As(err, &failure)).To(BeTrue())
			Expect(failure.Unwrap()).To(MatchError("connection refused"))
		})
	})
})
