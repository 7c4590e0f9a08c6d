package kb

import "github.com/kgraphd/kgraphd/internal/kgtypes"

// Mode is the persistence regime a KB instance runs in, chosen once at
// startup.
type Mode int

const (
	// ModeLegacy rewrites the entire legacy file on every mutation and
	// never appends events.
	ModeLegacy Mode = iota
	// ModeEventSourced appends an event per mutation and bounds replay
	// cost with periodic snapshots.
	ModeEventSourced
)

func (m Mode) String() string {
	if m == ModeEventSourced {
		return "event-sourced"
	}
	return "legacy"
}

// EntityInput is one candidate entity passed to CreateEntities.
type EntityInput struct {
	Name         string
	EntityType   string
	Observations []string
	CreatedBy    string
	UpdatedBy    string
}

// RelationInput is one candidate relation passed to CreateRelations.
type RelationInput struct {
	From         string
	To           string
	RelationType string
	CreatedBy    string
	ValidFrom    *uint64
	ValidTo      *uint64
}

// ObservationInput names the entity a batch of observation contents
// should be added to.
type ObservationInput struct {
	EntityName string
	Contents   []string
}

// ObservationDeletion names the entity and the specific observation
// strings to remove from it.
type ObservationDeletion struct {
	EntityName   string
	Observations []string
}

// RelationDeletion identifies one relation to remove by its unique key.
type RelationDeletion struct {
	From         string
	To           string
	RelationType string
}

// PathStep is one hop specification for Traverse.
type PathStep struct {
	RelationType string
	Direction    string // "out" | "in"
	TargetType   string
}

// Path is one traversal result: the sequence of entity names visited and
// the relation types traversed to reach each one.
type Path struct {
	Names         []string
	RelationTypes []string
}

// TraverseResult is the outcome of a bounded multi-hop traversal.
type TraverseResult struct {
	Paths    []Path
	EndNodes []*kgtypes.Entity
}

// Direction values accepted by GetRelated.
const (
	DirectionOutgoing = "outgoing"
	DirectionIncoming = "incoming"
	DirectionBoth     = "both"
)

// Summary formats accepted by Summarize.
const (
	FormatBrief    = "brief"
	FormatDetailed = "detailed"
	FormatStats    = "stats"
)
