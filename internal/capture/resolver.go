package capture

import (
	"context"
	"strings"

	"github.com/David-Pajuelo/thot-security-sub001/internal/albaran"
	"github.com/David-Pajuelo/thot-security-sub001/internal/extraction"
)

// RegistrationNumber selects the number used for the identity lookup:
// the entry number when present and non-placeholder, else the exit number.
// Empty means the document carries no usable registration number and the
// capture proceeds as a brand-new document.
func RegistrationNumber(doc *extraction.Document) string {
	if v := strings.TrimSpace(doc.NumeroRegistroEntrada); v != "" && !extraction.IsPlaceholder(v, doc.TipoTransaccion) {
		return v
	}
	if v := strings.TrimSpace(doc.NumeroRegistroSalida); v != "" && !extraction.IsPlaceholder(v, doc.TipoTransaccion) {
		return v
	}
	return ""
}

// Identity classifies the result of probing the store for a registration
// number.
type Identity struct {
	Found   bool
	Summary *albaran.ExistingDocumentSummary
}

// ResolveIdentity queries the store. It never writes; when a document is
// found the operator must be shown the summary and choose explicitly
// before anything is persisted.
func ResolveIdentity(ctx context.Context, store albaran.Store, numero string) (Identity, error) {
	if numero == "" {
		return Identity{}, nil
	}
	summary, err := store.DocumentExistsByRegistration(ctx, numero)
	if err != nil {
		return Identity{}, &IdentityLookupFailure{Err: err}
	}
	if summary == nil {
		return Identity{}, nil
	}
	return Identity{Found: true, Summary: summary}, nil
}
