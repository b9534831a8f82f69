package capture

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/David-Pajuelo/thot-security-sub001/internal/albaran"
	"github.com/David-Pajuelo/thot-security-sub001/internal/extraction"
)

var _ = Describe("NormalizeCode", func() {
	It("uppercases and collapses internal whitespace", func() {
		Expect(albaran.NormalizeCode("  crypto  a-1 ")).To(Equal("CRYPTO A-1"))
	})

	It("is idempotent", func() {
		once := albaran.NormalizeCode(" foo   BAR ")
		Expect(albaran.NormalizeCode(once)).To(Equal(once))
	})

	It("maps an all-whitespace code to empty", func() {
		Expect(albaran.NormalizeCode("   ")).To(BeEmpty())
	})
})

var _ = Describe("FindDuplicates", func() {
	When("the existing document has quantity-only lines", func() {
		It("flags the re-scanned lines and leaves the genuinely new one", func() {
			existing := []albaran.ProductRef{
				{Codigo: "CRYPTO-A"},
				{Codigo: "CRYPTO-B"},
			}
			nuevos := []extraction.Product{
				{Codigo: "CRYPTO-A"},
				{Codigo: "CRYPTO-B"},
				{Codigo: "CRYPTO-C"},
			}
			markers := FindDuplicates(existing, nuevos)
			Expect(markers).To(HaveLen(2))
			Expect(markers[0].NewIndex).To(Equal(0))
			Expect(markers[1].NewIndex).To(Equal(1))
		})
	})

	When("codes match but serials differ", func() {
		It("does not flag the line", func() {
			existing := []albaran.ProductRef{{Codigo: "CRYPTO-A", NumeroSerie: "111"}}
			nuevos := []extraction.Product{{Codigo: "CRYPTO-A", NumeroSerieInicio: "222"}}
			Expect(FindDuplicates(existing, nuevos)).To(BeEmpty())
		})
	})

	When("codes differ only in case and spacing", func() {
		It("still matches", func() {
			existing := []albaran.ProductRef{{Codigo: "CRYPTO A", NumeroSerie: "111"}}
			nuevos := []extraction.Product{{Codigo: " crypto   a ", NumeroSerieInicio: "111"}}
			markers := FindDuplicates(existing, nuevos)
			Expect(markers).To(HaveLen(1))
			Expect(markers[0].Codigo).To(Equal("CRYPTO A"))
			Expect(markers[0].NumeroSerie).To(Equal("111"))
		})
	})

	When("nothing is registered yet", func() {
		It("returns an empty, non-nil marker list", func() {
			markers := FindDuplicates(nil, []extraction.Product{{Codigo: "CRYPTO-A"}})
			Expect(markers).NotTo(BeNil())
			Expect(markers).To(BeEmpty())
		})
	})

	When("the serial range start matches a registered serial", func() {
		It("flags the line using the range start as the serial", func() {
			existing := []albaran.ProductRef{{Codigo: "CRYPTO-A", NumeroSerie: "500"}}
			nuevos := []extraction.Product{{Codigo: "CRYPTO-A", NumeroSerieInicio: "500", NumeroSerieFin: "520"}}
			markers := FindDuplicates(existing, nuevos)
			Expect(markers).To(HaveLen(1))
			Expect(markers[0].NumeroSerie).To(Equal("500"))
		})
	})
})
