package capture

// State is the capture workflow position. The flow is
// DRAFT → OCR_PENDING → OCR_RESULT → IDENTITY_CHECK → one of the three
// terminal intents → PERSISTING → DONE, with FAILED reachable from any
// external-call failure.
type State int

const (
	StateDraft State = iota
	StateOCRPending
	StateOCRResult
	StateIdentityCheck
	StateNewDocument
	StateAppendPage
	StateMergeExisting
	StatePersisting
	StateDone
	StateFailed
)

var stateNames = map[State]string{
	StateDraft:         "DRAFT",
	StateOCRPending:    "OCR_PENDING",
	StateOCRResult:     "OCR_RESULT",
	StateIdentityCheck: "IDENTITY_CHECK",
	StateNewDocument:   "NEW_DOCUMENT",
	StateAppendPage:    "APPEND_PAGE",
	StateMergeExisting: "MERGE_EXISTING",
	StatePersisting:    "PERSISTING",
	StateDone:          "DONE",
	StateFailed:        "FAILED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// terminalIntent reports whether the state is one of the three decision
// states from which Persist may run.
func (s State) terminalIntent() bool {
	return s == StateNewDocument || s == StateAppendPage || s == StateMergeExisting
}

// Decision is the terminal output of the workflow consumed by the
// persistence API.
type Decision string

const (
	DecisionNewDocument   Decision = "NEW_DOCUMENT"
	DecisionAppendPage    Decision = "APPEND_PAGE"
	DecisionMergeExisting Decision = "MERGE_INTO_EXISTING"
)
