package domain

import "time"

// ServiceDescription is what an agent advertises through the DF.
type ServiceDescription struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Protocols   []ProtocolType    `json:"protocols,omitempty"`
	Ontology    string            `json:"ontology,omitempty"`
	Properties  map[string]string `json:"properties,omitempty"`
}

// ServiceRegistration binds a ServiceDescription to its owning agent and an
// optional lease, as stored in the DF's service_name -> registrations map.
type ServiceRegistration struct {
	Service      ServiceDescription `json:"service"`
	Owner        AgentId            `json:"owner"`
	RegisteredAt time.Time          `json:"registered_at"`
	LeaseExpiry  *time.Time         `json:"lease_expiry,omitempty"`
}

// Expired reports whether the registration's lease, if any, has elapsed.
func (r ServiceRegistration) Expired(now time.Time) bool {
	return r.LeaseExpiry != nil && now.After(*r.LeaseExpiry)
}

// ServiceFilter is a DF search predicate. Fields left zero-valued are not
// applied. Properties is a subset match: every key/value pair present must
// match the registration's properties.
type ServiceFilter struct {
	NameSubstring string            `json:"name,omitempty"`
	Protocol      *ProtocolType     `json:"protocol,omitempty"`
	Ontology      string            `json:"ontology,omitempty"`
	Owner         string            `json:"owner,omitempty"`
	Properties    map[string]string `json:"properties,omitempty"`
	MaxResults    int               `json:"max_results,omitempty"`
	Federated     bool              `json:"federated,omitempty"`
}
