package capture

import (
	"github.com/David-Pajuelo/thot-security-sub001/internal/albaran"
	"github.com/David-Pajuelo/thot-security-sub001/internal/extraction"
)

// DuplicateMarker relates an index into the current extracted product list
// to a matching entry already registered against the existing document.
type DuplicateMarker struct {
	NewIndex    int    `json:"new_index"`
	Codigo      string `json:"codigo"`
	NumeroSerie string `json:"numero_serie"`
}

// FindDuplicates computes which extracted products duplicate already
// registered ones. Two products match iff their normalized codes are equal
// and their serials are equal; serials default to the empty string, so two
// quantity-only lines of the same code do match. Markers carry the index
// into the new list so callers can deselect those rows.
func FindDuplicates(existing []albaran.ProductRef, nuevos []extraction.Product) []DuplicateMarker {
	registered := make(map[[2]string]bool, len(existing))
	for _, p := range existing {
		registered[[2]string{albaran.NormalizeCode(p.Codigo), p.NumeroSerie}] = true
	}

	markers := make([]DuplicateMarker, 0)
	for i, p := range nuevos {
		code := albaran.NormalizeCode(p.Codigo)
		serial := p.NumeroSerie()
		if registered[[2]string{code, serial}] {
			markers = append(markers, DuplicateMarker{NewIndex: i, Codigo: code, NumeroSerie: serial})
		}
	}
	return markers
}

// markedIndexes returns the set of new-list indexes flagged as duplicates.
func markedIndexes(markers []DuplicateMarker) map[int]bool {
	set := make(map[int]bool, len(markers))
	for _, m := range markers {
		set[m.NewIndex] = true
	}
	return set
}
