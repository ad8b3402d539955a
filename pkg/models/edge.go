package models

// Edge is a directed connection between two nodes, keyed by node_name.
// Endpoint existence is checked by Flow.Validate.
type Edge struct {
	Source string `json:"source" toml:"source" yaml:"source" msgpack:"source" validate:"required"`
	Target string `json:"target" toml:"target" yaml:"target" msgpack:"target" validate:"required"`
}

func (e Edge) String() string {
	return e.Source + " -> " + e.Target
}
