package schema

import "github.com/rendis/promptchain/pkg/chain"

// ChainDocument is the JSON-serializable body of a chain version. Nodes is
// stored verbatim, in array order.
type ChainDocument struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Nodes       chain.Chain    `json:"nodes"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Clone returns a copy of the document whose nodes can be edited freely.
func (d ChainDocument) Clone() ChainDocument {
	out := d
	out.Nodes = d.Nodes.Clone()
	if out.Nodes == nil {
		out.Nodes = chain.Chain{}
	}
	if d.Metadata != nil {
		out.Metadata = make(map[string]any, len(d.Metadata))
		for k, v := range d.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
