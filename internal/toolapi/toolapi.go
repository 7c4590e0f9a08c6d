// Package toolapi models the Tool Interface: the typed operations the
// core exposes to any transport, as a capability set rather than a
// dynamically-dispatched object. Each operation is a plain Go function
// over *kb.KB; a transport adapter wires these into its own dispatch
// table by name rather than reflecting over a generic handler.
package toolapi

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kgraphd/kgraphd/internal/inference"
	"github.com/kgraphd/kgraphd/internal/kb"
	"github.com/kgraphd/kgraphd/internal/kgtypes"
)

// ErrInvalidParams is wrapped by every argument-validation failure so
// transports can map it to their native invalid-params error shape
// (JSON-RPC -32602, HTTP 400, ...).
var ErrInvalidParams = errors.New("invalid params")

// API is the Tool Interface: every exported method corresponds to one
// named operation from spec §6. It is transport-agnostic — no method
// here knows about JSON-RPC, HTTP, or MCP framing.
type API struct {
	kb   *kb.KB
	user string
}

// New wraps a Knowledge Base as a Tool Interface. user is the identity
// attributed to mutations made through this API instance (a single
// process may construct one API per connected caller, or share one for
// an unauthenticated local transport).
func New(graph *kb.KB, user string) *API {
	return &API{kb: graph, user: user}
}

// -- CRUD ------------------------------------------------------------

// EntityArg is one entity candidate for CreateEntities.
type EntityArg struct {
	Name         string   `json:"name"`
	EntityType   string   `json:"entityType"`
	Observations []string `json:"observations,omitempty"`
	CreatedBy    string   `json:"createdBy,omitempty"`
	UpdatedBy    string   `json:"updatedBy,omitempty"`
}

// CreateEntitiesResult is the result of CreateEntities.
type CreateEntitiesResult struct {
	Created  []*kgtypes.Entity `json:"created"`
	Warnings []string          `json:"warnings,omitempty"`
}

// CreateEntities implements create_entities.
func (a *API) CreateEntities(entities []EntityArg) (CreateEntitiesResult, error) {
	if len(entities) == 0 {
		return CreateEntitiesResult{}, fmt.Errorf("%w: entities must be non-empty", ErrInvalidParams)
	}
	inputs := make([]kb.EntityInput, 0, len(entities))
	for _, e := range entities {
		if strings.TrimSpace(e.Name) == "" || strings.TrimSpace(e.EntityType) == "" {
			return CreateEntitiesResult{}, fmt.Errorf("%w: entity name and entityType are required", ErrInvalidParams)
		}
		inputs = append(inputs, kb.EntityInput{
			Name:         e.Name,
			EntityType:   e.EntityType,
			Observations: e.Observations,
			CreatedBy:    e.CreatedBy,
			UpdatedBy:    e.UpdatedBy,
		})
	}
	created, warnings, err := a.kb.CreateEntities(inputs, a.user)
	if err != nil {
		return CreateEntitiesResult{}, err
	}
	return CreateEntitiesResult{Created: created, Warnings: warnings}, nil
}

// RelationArg is one relation candidate for CreateRelations.
type RelationArg struct {
	From         string  `json:"from"`
	To           string  `json:"to"`
	RelationType string  `json:"relationType"`
	CreatedBy    string  `json:"createdBy,omitempty"`
	ValidFrom    *uint64 `json:"validFrom,omitempty"`
	ValidTo      *uint64 `json:"validTo,omitempty"`
}

// CreateRelationsResult is the result of CreateRelations.
type CreateRelationsResult struct {
	Created  []*kgtypes.Relation `json:"created"`
	Warnings []string            `json:"warnings,omitempty"`
}

// CreateRelations implements create_relations.
func (a *API) CreateRelations(relations []RelationArg) (CreateRelationsResult, error) {
	if len(relations) == 0 {
		return CreateRelationsResult{}, fmt.Errorf("%w: relations must be non-empty", ErrInvalidParams)
	}
	inputs := make([]kb.RelationInput, 0, len(relations))
	for _, r := range relations {
		if r.From == "" || r.To == "" || r.RelationType == "" {
			return CreateRelationsResult{}, fmt.Errorf("%w: from, to, and relationType are required", ErrInvalidParams)
		}
		inputs = append(inputs, kb.RelationInput{
			From: r.From, To: r.To, RelationType: r.RelationType,
			CreatedBy: r.CreatedBy, ValidFrom: r.ValidFrom, ValidTo: r.ValidTo,
		})
	}
	created, warnings, err := a.kb.CreateRelations(inputs, a.user)
	if err != nil {
		return CreateRelationsResult{}, err
	}
	return CreateRelationsResult{Created: created, Warnings: warnings}, nil
}

// ObservationArg names the entity a batch of observations is added to.
type ObservationArg struct {
	EntityName string   `json:"entityName"`
	Contents   []string `json:"contents"`
}

// AddObservationsResult is the result of AddObservations, keyed by entity
// name to the observations actually appended.
type AddObservationsResult struct {
	Added map[string][]string `json:"added"`
}

// AddObservations implements add_observations.
func (a *API) AddObservations(observations []ObservationArg) (AddObservationsResult, error) {
	if len(observations) == 0 {
		return AddObservationsResult{}, fmt.Errorf("%w: observations must be non-empty", ErrInvalidParams)
	}
	inputs := make([]kb.ObservationInput, 0, len(observations))
	for _, o := range observations {
		if o.EntityName == "" {
			return AddObservationsResult{}, fmt.Errorf("%w: entityName is required", ErrInvalidParams)
		}
		inputs = append(inputs, kb.ObservationInput{EntityName: o.EntityName, Contents: o.Contents})
	}
	added, err := a.kb.AddObservations(inputs, a.user)
	if err != nil {
		return AddObservationsResult{}, err
	}
	return AddObservationsResult{Added: added}, nil
}

// DeleteEntitiesResult is the result of DeleteEntities.
type DeleteEntitiesResult struct {
	Deleted []string `json:"deleted"`
}

// DeleteEntities implements delete_entities.
func (a *API) DeleteEntities(entityNames []string) (DeleteEntitiesResult, error) {
	if len(entityNames) == 0 {
		return DeleteEntitiesResult{}, fmt.Errorf("%w: entityNames must be non-empty", ErrInvalidParams)
	}
	deleted, err := a.kb.DeleteEntities(entityNames, a.user)
	if err != nil {
		return DeleteEntitiesResult{}, err
	}
	return DeleteEntitiesResult{Deleted: deleted}, nil
}

// ObservationDeletionArg names the entity and the observations to remove.
type ObservationDeletionArg struct {
	EntityName   string   `json:"entityName"`
	Observations []string `json:"observations"`
}

// DeleteObservationsResult is the result of DeleteObservations.
type DeleteObservationsResult struct {
	DeletedCount int `json:"deletedCount"`
}

// DeleteObservations implements delete_observations.
func (a *API) DeleteObservations(deletions []ObservationDeletionArg) (DeleteObservationsResult, error) {
	if len(deletions) == 0 {
		return DeleteObservationsResult{}, fmt.Errorf("%w: deletions must be non-empty", ErrInvalidParams)
	}
	inputs := make([]kb.ObservationDeletion, 0, len(deletions))
	for _, d := range deletions {
		inputs = append(inputs, kb.ObservationDeletion{EntityName: d.EntityName, Observations: d.Observations})
	}
	n, err := a.kb.DeleteObservations(inputs, a.user)
	if err != nil {
		return DeleteObservationsResult{}, err
	}
	return DeleteObservationsResult{DeletedCount: n}, nil
}

// RelationDeletionArg identifies one relation to remove by its key.
type RelationDeletionArg struct {
	From         string `json:"from"`
	To           string `json:"to"`
	RelationType string `json:"relationType"`
}

// DeleteRelationsResult is the result of DeleteRelations.
type DeleteRelationsResult struct {
	DeletedCount int `json:"deletedCount"`
}

// DeleteRelations implements delete_relations.
func (a *API) DeleteRelations(relations []RelationDeletionArg) (DeleteRelationsResult, error) {
	if len(relations) == 0 {
		return DeleteRelationsResult{}, fmt.Errorf("%w: relations must be non-empty", ErrInvalidParams)
	}
	inputs := make([]kb.RelationDeletion, 0, len(relations))
	for _, r := range relations {
		inputs = append(inputs, kb.RelationDeletion{From: r.From, To: r.To, RelationType: r.RelationType})
	}
	n, err := a.kb.DeleteRelations(inputs, a.user)
	if err != nil {
		return DeleteRelationsResult{}, err
	}
	return DeleteRelationsResult{DeletedCount: n}, nil
}

// -- Queries -----------------------------------------------------------

// ReadGraphResult is the result of ReadGraph.
type ReadGraphResult struct {
	Entities  []*kgtypes.Entity   `json:"entities"`
	Relations []*kgtypes.Relation `json:"relations"`
}

// ReadGraph implements read_graph. limit<=0 means "no limit".
func (a *API) ReadGraph(limit, offset int) ReadGraphResult {
	if offset < 0 {
		offset = 0
	}
	entities, relations := a.kb.ReadGraph(limit, offset)
	return ReadGraphResult{Entities: entities, Relations: relations}
}

// SearchNodesResult is the result of SearchNodes.
type SearchNodesResult struct {
	Entities  []*kgtypes.Entity   `json:"entities"`
	Relations []*kgtypes.Relation `json:"relations,omitempty"`
}

// SearchNodes implements search_nodes.
func (a *API) SearchNodes(query string, limit int, includeRelations bool) (SearchNodesResult, error) {
	if strings.TrimSpace(query) == "" {
		return SearchNodesResult{}, fmt.Errorf("%w: query is required", ErrInvalidParams)
	}
	entities, relations := a.kb.SearchNodes(query, limit, includeRelations)
	return SearchNodesResult{Entities: entities, Relations: relations}, nil
}

// OpenNodesResult is the result of OpenNodes.
type OpenNodesResult struct {
	Entities  []*kgtypes.Entity   `json:"entities"`
	Relations []*kgtypes.Relation `json:"relations"`
}

// OpenNodes implements open_nodes.
func (a *API) OpenNodes(names []string) (OpenNodesResult, error) {
	if len(names) == 0 {
		return OpenNodesResult{}, fmt.Errorf("%w: names must be non-empty", ErrInvalidParams)
	}
	entities, relations := a.kb.OpenNodes(names)
	return OpenNodesResult{Entities: entities, Relations: relations}, nil
}

// GetRelated implements get_related.
func (a *API) GetRelated(entityName, relationType, direction string) ([]*kgtypes.Entity, error) {
	if entityName == "" {
		return nil, fmt.Errorf("%w: entityName is required", ErrInvalidParams)
	}
	switch direction {
	case "", kb.DirectionOutgoing, kb.DirectionIncoming, kb.DirectionBoth:
	default:
		return nil, fmt.Errorf("%w: direction must be outgoing, incoming, or both", ErrInvalidParams)
	}
	if direction == "" {
		direction = kb.DirectionBoth
	}
	return a.kb.GetRelated(entityName, relationType, direction), nil
}

// PathStepArg is one hop specification for Traverse.
type PathStepArg struct {
	RelationType string `json:"relationType"`
	Direction    string `json:"direction"`
	TargetType   string `json:"targetType,omitempty"`
}

// Traverse implements traverse.
func (a *API) Traverse(start string, path []PathStepArg, maxResults int) (kb.TraverseResult, error) {
	if start == "" {
		return kb.TraverseResult{}, fmt.Errorf("%w: startNode is required", ErrInvalidParams)
	}
	if len(path) == 0 {
		return kb.TraverseResult{}, fmt.Errorf("%w: path must be non-empty", ErrInvalidParams)
	}
	steps := make([]kb.PathStep, 0, len(path))
	for _, s := range path {
		if s.Direction != "out" && s.Direction != "in" {
			return kb.TraverseResult{}, fmt.Errorf("%w: path step direction must be out or in", ErrInvalidParams)
		}
		steps = append(steps, kb.PathStep{RelationType: s.RelationType, Direction: s.Direction, TargetType: s.TargetType})
	}
	if maxResults <= 0 {
		maxResults = 50
	}
	return a.kb.Traverse(start, steps, maxResults), nil
}

// SummarizeResult is the result of Summarize.
type SummarizeResult struct {
	Entities []kb.EntitySummary `json:"entities,omitempty"`
	Stats    *kb.SummaryStats   `json:"stats,omitempty"`
}

// Summarize implements summarize.
func (a *API) Summarize(names []string, entityType, format string) (SummarizeResult, error) {
	switch format {
	case kb.FormatBrief, kb.FormatDetailed, kb.FormatStats:
	default:
		return SummarizeResult{}, fmt.Errorf("%w: format must be brief, detailed, or stats", ErrInvalidParams)
	}
	entities, stats := a.kb.Summarize(names, entityType, format)
	return SummarizeResult{Entities: entities, Stats: stats}, nil
}

// -- Temporal ------------------------------------------------------------

// GetRelationsAtTime implements get_relations_at_time. A zero timestamp
// means "now".
func (a *API) GetRelationsAtTime(timestamp uint64, entityName string) []*kgtypes.Relation {
	if timestamp == 0 {
		timestamp = uint64(time.Now().Unix())
	}
	return a.kb.GetRelationsAtTime(timestamp, entityName)
}

// GetRelationHistory implements get_relation_history.
func (a *API) GetRelationHistory(entityName string) ([]*kgtypes.Relation, error) {
	if entityName == "" {
		return nil, fmt.Errorf("%w: entityName is required", ErrInvalidParams)
	}
	return a.kb.GetRelationHistory(entityName), nil
}

// CurrentTime is the structured result of GetCurrentTime.
type CurrentTime struct {
	Timestamp   int64  `json:"timestamp"`
	TimestampMs int64  `json:"timestampMs"`
	ISO8601     string `json:"iso8601"`
	Readable    string `json:"readable"`
	Year        int    `json:"year"`
	Month       int    `json:"month"`
	Day         int    `json:"day"`
	Hour        int    `json:"hour"`
	Minute      int    `json:"minute"`
	Second      int    `json:"second"`
	Weekday     string `json:"weekday"`
}

// GetCurrentTime implements get_current_time.
func (a *API) GetCurrentTime() CurrentTime {
	return currentTimeAt(time.Now())
}

// currentTimeAt decomposes t into the structured shape get_current_time
// returns. time.Time already carries full Gregorian-calendar arithmetic,
// so this is a straight field-by-field projection rather than a
// hand-rolled date algorithm.
func currentTimeAt(t time.Time) CurrentTime {
	t = t.UTC()
	return CurrentTime{
		Timestamp:   t.Unix(),
		TimestampMs: t.UnixMilli(),
		ISO8601:     t.Format(time.RFC3339),
		Readable:    t.Format("Mon Jan 2 15:04:05 2006 UTC"),
		Year:        t.Year(),
		Month:       int(t.Month()),
		Day:         t.Day(),
		Hour:        t.Hour(),
		Minute:      t.Minute(),
		Second:      t.Second(),
		Weekday:     t.Weekday().String(),
	}
}

// -- Inference -----------------------------------------------------------

// InferResult is the result of Infer.
type InferResult struct {
	Inferences []inference.InferredRelation `json:"inferences"`
	Stats      inference.Stats              `json:"stats"`
}

// Infer implements infer. minConfidence and maxDepth are clamped to their
// documented ranges rather than rejected (spec §7).
func (a *API) Infer(entityName string, minConfidence float64, maxDepth int) (InferResult, error) {
	if entityName == "" {
		return InferResult{}, fmt.Errorf("%w: entityName is required", ErrInvalidParams)
	}
	if minConfidence < 0 {
		minConfidence = 0
	} else if minConfidence > 1 {
		minConfidence = 1
	}
	if maxDepth < 1 {
		maxDepth = 1
	} else if maxDepth > 5 {
		maxDepth = 5
	}
	inferences, stats := a.kb.Infer(entityName, minConfidence, maxDepth)
	return InferResult{Inferences: inferences, Stats: stats}, nil
}
