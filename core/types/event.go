package types

// Event is the canonical payload recorded for a marketplace state transition,
// a stable type name plus flat string attributes. Amounts and addresses are
// rendered to strings so consumers never depend on engine-internal types.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
