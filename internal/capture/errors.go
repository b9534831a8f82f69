package capture

import (
	"errors"
	"fmt"

	"github.com/David-Pajuelo/thot-security-sub001/internal/albaran"
)

// ErrStaleSession is returned when a call targets a capture session that
// has been superseded by a newer upload. Late results for a stale session
// are discarded, never applied.
var ErrStaleSession = errors.New("capture session superseded")

// OcrFailure indicates the OCR call returned failure or a network error.
// Recoverable: the prepared page set survives and the submission can be
// retried.
type OcrFailure struct {
	Err error
}

func (e *OcrFailure) Error() string {
	return fmt.Sprintf("ocr extraction failed: %v", e.Err)
}

func (e *OcrFailure) Unwrap() error {
	return e.Err
}

// IdentityLookupFailure indicates the document store was unreachable
// during identity resolution. Recoverable: extracted fields survive and
// the lookup can be retried.
type IdentityLookupFailure struct {
	Err error
}

func (e *IdentityLookupFailure) Error() string {
	return fmt.Sprintf("identity lookup failed: %v", e.Err)
}

func (e *IdentityLookupFailure) Unwrap() error {
	return e.Err
}

// ValidationError blocks a state transition the operator attempted without
// the required input. Not a system fault.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// PersistenceConflict is the store-side duplicate signal: the server
// detected a registration-number collision the client did not catch. It
// routes into the merge path rather than surfacing as a hard failure.
type PersistenceConflict struct {
	AlbaranID string
	Existing  []albaran.ProductRef
}

func (e *PersistenceConflict) Error() string {
	return fmt.Sprintf("document %s already registered with %d products", e.AlbaranID, len(e.Existing))
}
