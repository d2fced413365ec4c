package service

// Layer describes where a service sits in the shipyard composition.
type Layer string

const (
	// LayerLedger services own round budget accounting.
	LayerLedger Layer = "ledger"
	// LayerCollaborator services front external systems (chain, allow-list).
	LayerCollaborator Layer = "collaborator"
	// LayerReporting services only read ledger state.
	LayerReporting Layer = "reporting"
)

// Descriptor advertises a service's placement and capabilities. It does not
// change runtime behaviour; the HTTP layer lists descriptors for operators.
type Descriptor struct {
	Name         string   `json:"name"`
	Domain       string   `json:"domain"`
	Layer        Layer    `json:"layer"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// WithCapabilities returns a copy of the descriptor with additional
// capabilities appended.
func (d Descriptor) WithCapabilities(caps ...string) Descriptor {
	if len(caps) == 0 {
		return d
	}
	combined := make([]string, 0, len(d.Capabilities)+len(caps))
	combined = append(combined, d.Capabilities...)
	combined = append(combined, caps...)
	d.Capabilities = combined
	return d
}

// Describer is implemented by services that advertise a descriptor.
type Describer interface {
	Descriptor() Descriptor
}

// Collect returns the descriptors of every describer, skipping nils.
func Collect(items ...Describer) []Descriptor {
	out := make([]Descriptor, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		out = append(out, item.Descriptor())
	}
	return out
}
