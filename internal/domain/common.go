package domain

// Provenance records where a snapshot's data came from.
type Provenance string

const (
	ProvenanceStream Provenance = "stream" // Symbol Monitor cache
	ProvenanceREST   Provenance = "rest"   // REST fallback
	ProvenanceError  Provenance = "error"  // Collection failed for this symbol
)

// MonitorState is the lifecycle state of a monitor registration.
type MonitorState string

const (
	StatePending MonitorState = "pending"
	StateActive  MonitorState = "active"
	StateFailed  MonitorState = "failed"
)
