package raster

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("PreparedPage rotation", func() {
	var page *PreparedPage

	BeforeEach(func() {
		page = &PreparedPage{Index: 0, Image: newTestImage(3, 2, white)}
	})

	When("applying a sequence of deltas", func() {
		It("accumulates modulo 360", func() {
			for _, d := range []int{90, 90, 90, 90} {
				Expect(page.Rotate(d)).To(Succeed())
			}
			Expect(page.Delta).To(Equal(Rotation(0)))
		})

		It("normalizes mixed deltas", func() {
			Expect(page.Rotate(180)).To(Succeed())
			Expect(page.Rotate(270)).To(Succeed())
			Expect(page.Delta).To(Equal(Rotation(90)))
		})

		It("normalizes negative deltas", func() {
			Expect(page.Rotate(-90)).To(Succeed())
			Expect(page.Delta).To(Equal(Rotation(270)))
		})

		It("only ever yields a right angle", func() {
			deltas := []int{90, 180, -270, 360, 450, -90, 270}
			for _, d := range deltas {
				Expect(page.Rotate(d)).To(Succeed())
				Expect(int(page.Delta)).To(BeElementOf(0, 90, 180, 270))
			}
		})
	})

	When("applying a non-right angle", func() {
		It("rejects the delta", func() {
			Expect(page.Rotate(45)).To(HaveOccurred())
			Expect(page.Delta).To(Equal(Rotation(0)))
		})
	})
})

var _ = Describe("Flatten", func() {
	When("delta is 0", func() {
		It("returns the buffer unmodified", func() {
			img := newTestImage(3, 2, white)
			Expect(Flatten(img, 0)).To(BeIdenticalTo(img))
		})
	})

	When("delta is 90 or 270", func() {
		It("swaps width and height", func() {
			img := newTestImage(3, 2, white)
			for _, d := range []Rotation{90, 270} {
				out := Flatten(img, d)
				Expect(out.Bounds().Dx()).To(Equal(2))
				Expect(out.Bounds().Dy()).To(Equal(3))
			}
		})
	})

	When("delta is 180", func() {
		It("preserves width and height", func() {
			img := newTestImage(3, 2, white)
			out := Flatten(img, 180)
			Expect(out.Bounds().Dx()).To(Equal(3))
			Expect(out.Bounds().Dy()).To(Equal(2))
		})
	})

	When("rotating 90 clockwise", func() {
		It("maps the top-left pixel to the top-right column", func() {
			img := newTestImage(3, 2, white)
			img.SetNRGBA(0, 0, red)
			out := Flatten(img, 90)
			// a clockwise quarter turn maps (x, y) to (h-1-y, x)
			Expect(out.At(1, 0)).To(Equal(red))
		})
	})

	When("rotating twice by 180", func() {
		It("reproduces the original pixel layout", func() {
			img := newTestImage(3, 2, white)
			img.SetNRGBA(2, 1, red)
			out := Flatten(Flatten(img, 180), 180)
			Expect(out.At(2, 1)).To(Equal(red))
			Expect(out.Bounds()).To(Equal(img.Bounds()))
		})
	})
})
