package types

// Event represents a structured state-change notification emitted by the
// native engines. Attributes are stringly typed so downstream indexers can
// reconstruct ledger state from the event log alone.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
