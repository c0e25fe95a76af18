package invoicing

import "strings"

// Environment selects the fiscal authority endpoint
type Environment string

const (
	EnvironmentSandbox    Environment = "sandbox"
	EnvironmentProduction Environment = "production"
)

// IsValid returns true if the environment is known
func (e Environment) IsValid() bool {
	return e == EnvironmentSandbox || e == EnvironmentProduction
}

// State is the local lifecycle state of a fiscal document
type State string

const (
	StateNotRequested State = "not_requested"
	StateQueued       State = "queued"
	StateProcessing   State = "processing"
	StateAuthorized   State = "authorized"
	StateRejected     State = "rejected"
	StateDenied       State = "denied"
	StateCancelled    State = "cancelled"
	StateError        State = "error"
	StateXMLSent      State = "xml_sent"
)

// IsTerminalFailure returns true for states that need an explicit reissue
func (s State) IsTerminalFailure() bool {
	switch s {
	case StateRejected, StateDenied, StateCancelled, StateError:
		return true
	}
	return false
}

// IsInFlight returns true while the invoicing service still owns the outcome
func (s State) IsInFlight() bool {
	return s == StateQueued || s == StateProcessing
}

// FocusStatus is the authorization status reported by the invoicing service
type FocusStatus string

const (
	FocusPending    FocusStatus = "pending"
	FocusProcessing FocusStatus = "processing"
	FocusAuthorized FocusStatus = "authorized"
	FocusRejected   FocusStatus = "rejected"
	FocusDenied     FocusStatus = "denied"
	FocusCancelled  FocusStatus = "cancelled"
	FocusError      FocusStatus = "error"
)

// focusVocabulary accepts both the canonical tokens and the service's Portuguese ones
var focusVocabulary = map[string]FocusStatus{
	"pending":                 FocusPending,
	"pendente":                FocusPending,
	"processing":              FocusProcessing,
	"processando_autorizacao": FocusProcessing,
	"authorized":              FocusAuthorized,
	"autorizado":              FocusAuthorized,
	"rejected":                FocusRejected,
	"rejeitado":               FocusRejected,
	"denied":                  FocusDenied,
	"denegado":                FocusDenied,
	"cancelled":               FocusCancelled,
	"canceled":                FocusCancelled,
	"cancelado":               FocusCancelled,
	"error":                   FocusError,
	"erro_autorizacao":        FocusError,
}

// ParseFocusStatus parses a status token from the invoicing service
func ParseFocusStatus(s string) (FocusStatus, bool) {
	fs, ok := focusVocabulary[strings.ToLower(strings.TrimSpace(s))]
	return fs, ok
}

// State maps the remote status onto the local lifecycle
func (f FocusStatus) State() State {
	switch f {
	case FocusPending, FocusProcessing:
		return StateProcessing
	case FocusAuthorized:
		return StateAuthorized
	case FocusRejected:
		return StateRejected
	case FocusDenied:
		return StateDenied
	case FocusCancelled:
		return StateCancelled
	case FocusError:
		return StateError
	default:
		return StateError
	}
}

// SubmissionStatus tracks whether the authorized XML reached the marketplace
type SubmissionStatus string

const (
	SubmissionPending SubmissionStatus = "pending"
	SubmissionSent    SubmissionStatus = "sent"
)

// SanitizeErrorMessage keeps the fiscal authority's message and drops everything
// from the first bracketed diagnostic block on.
func SanitizeErrorMessage(msg string) string {
	if i := strings.Index(msg, "["); i >= 0 {
		msg = msg[:i]
	}
	return strings.TrimSpace(msg)
}
