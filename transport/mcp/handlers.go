package mcp

import (
	"context"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kgraphd/kgraphd/internal/inference"
	"github.com/kgraphd/kgraphd/internal/kgtypes"
	"github.com/kgraphd/kgraphd/internal/toolapi"
)

// -- create_entities -------------------------------------------------

type createEntitiesInput struct {
	Entities []toolapi.EntityArg `json:"entities" jsonschema:"Entities to create"`
}

type createEntitiesOutput struct {
	Created  []*kgtypes.Entity `json:"created" jsonschema:"Entities actually created (duplicates omitted)"`
	Warnings []string          `json:"warnings,omitempty" jsonschema:"Soft-validation warnings"`
}

func (s *Server) handleCreateEntities(
	ctx context.Context, req *gomcp.CallToolRequest, in createEntitiesInput,
) (*gomcp.CallToolResult, createEntitiesOutput, error) {
	res, err := s.api.CreateEntities(in.Entities)
	if err != nil {
		return nil, createEntitiesOutput{}, toolError("create_entities", err)
	}
	return nil, createEntitiesOutput{Created: res.Created, Warnings: res.Warnings}, nil
}

// -- create_relations --------------------------------------------------

type createRelationsInput struct {
	Relations []toolapi.RelationArg `json:"relations" jsonschema:"Relations to create"`
}

type createRelationsOutput struct {
	Created  []*kgtypes.Relation `json:"created" jsonschema:"Relations actually created"`
	Warnings []string            `json:"warnings,omitempty" jsonschema:"Soft-validation warnings"`
}

func (s *Server) handleCreateRelations(
	ctx context.Context, req *gomcp.CallToolRequest, in createRelationsInput,
) (*gomcp.CallToolResult, createRelationsOutput, error) {
	res, err := s.api.CreateRelations(in.Relations)
	if err != nil {
		return nil, createRelationsOutput{}, toolError("create_relations", err)
	}
	return nil, createRelationsOutput{Created: res.Created, Warnings: res.Warnings}, nil
}

// -- add_observations --------------------------------------------------

type addObservationsInput struct {
	Observations []toolapi.ObservationArg `json:"observations" jsonschema:"Entity/contents pairs"`
}

type addObservationsOutput struct {
	Added map[string][]string `json:"added" jsonschema:"Observations actually appended, by entity name"`
}

func (s *Server) handleAddObservations(
	ctx context.Context, req *gomcp.CallToolRequest, in addObservationsInput,
) (*gomcp.CallToolResult, addObservationsOutput, error) {
	res, err := s.api.AddObservations(in.Observations)
	if err != nil {
		return nil, addObservationsOutput{}, toolError("add_observations", err)
	}
	return nil, addObservationsOutput{Added: res.Added}, nil
}

// -- delete_entities -----------------------------------------------------

type deleteEntitiesInput struct {
	EntityNames []string `json:"entityNames" jsonschema:"Names of entities to delete"`
}

type deleteEntitiesOutput struct {
	Deleted []string `json:"deleted" jsonschema:"Entity names actually deleted"`
}

func (s *Server) handleDeleteEntities(
	ctx context.Context, req *gomcp.CallToolRequest, in deleteEntitiesInput,
) (*gomcp.CallToolResult, deleteEntitiesOutput, error) {
	res, err := s.api.DeleteEntities(in.EntityNames)
	if err != nil {
		return nil, deleteEntitiesOutput{}, toolError("delete_entities", err)
	}
	return nil, deleteEntitiesOutput{Deleted: res.Deleted}, nil
}

// -- delete_observations -------------------------------------------------

type deleteObservationsInput struct {
	Deletions []toolapi.ObservationDeletionArg `json:"deletions" jsonschema:"Entity/observation pairs to remove"`
}

type deleteObservationsOutput struct {
	DeletedCount int `json:"deletedCount" jsonschema:"Number of observations actually removed"`
}

func (s *Server) handleDeleteObservations(
	ctx context.Context, req *gomcp.CallToolRequest, in deleteObservationsInput,
) (*gomcp.CallToolResult, deleteObservationsOutput, error) {
	res, err := s.api.DeleteObservations(in.Deletions)
	if err != nil {
		return nil, deleteObservationsOutput{}, toolError("delete_observations", err)
	}
	return nil, deleteObservationsOutput{DeletedCount: res.DeletedCount}, nil
}

// -- delete_relations ----------------------------------------------------

type deleteRelationsInput struct {
	Relations []toolapi.RelationDeletionArg `json:"relations" jsonschema:"Relation keys to delete"`
}

type deleteRelationsOutput struct {
	DeletedCount int `json:"deletedCount" jsonschema:"Number of relations actually removed"`
}

func (s *Server) handleDeleteRelations(
	ctx context.Context, req *gomcp.CallToolRequest, in deleteRelationsInput,
) (*gomcp.CallToolResult, deleteRelationsOutput, error) {
	res, err := s.api.DeleteRelations(in.Relations)
	if err != nil {
		return nil, deleteRelationsOutput{}, toolError("delete_relations", err)
	}
	return nil, deleteRelationsOutput{DeletedCount: res.DeletedCount}, nil
}

// -- read_graph ----------------------------------------------------------

type readGraphInput struct {
	Limit  int `json:"limit,omitempty" jsonschema:"Max entities to return; 0 means no limit"`
	Offset int `json:"offset,omitempty" jsonschema:"Number of entities to skip"`
}

type readGraphOutput struct {
	Entities  []*kgtypes.Entity   `json:"entities"`
	Relations []*kgtypes.Relation `json:"relations"`
}

func (s *Server) handleReadGraph(
	ctx context.Context, req *gomcp.CallToolRequest, in readGraphInput,
) (*gomcp.CallToolResult, readGraphOutput, error) {
	res := s.api.ReadGraph(in.Limit, in.Offset)
	return nil, readGraphOutput{Entities: res.Entities, Relations: res.Relations}, nil
}

// -- search_nodes --------------------------------------------------------

type searchNodesInput struct {
	Query            string `json:"query" jsonschema:"Search term, expanded via synonym groups"`
	Limit            int    `json:"limit,omitempty" jsonschema:"Max entities to return"`
	IncludeRelations bool   `json:"includeRelations,omitempty" jsonschema:"Include relations touching matched entities"`
}

type searchNodesOutput struct {
	Entities  []*kgtypes.Entity   `json:"entities"`
	Relations []*kgtypes.Relation `json:"relations,omitempty"`
}

func (s *Server) handleSearchNodes(
	ctx context.Context, req *gomcp.CallToolRequest, in searchNodesInput,
) (*gomcp.CallToolResult, searchNodesOutput, error) {
	res, err := s.api.SearchNodes(in.Query, in.Limit, in.IncludeRelations)
	if err != nil {
		return nil, searchNodesOutput{}, toolError("search_nodes", err)
	}
	return nil, searchNodesOutput{Entities: res.Entities, Relations: res.Relations}, nil
}

// -- open_nodes ------------------------------------------------------------

type openNodesInput struct {
	Names []string `json:"names" jsonschema:"Exact entity names to open"`
}

type openNodesOutput struct {
	Entities  []*kgtypes.Entity   `json:"entities"`
	Relations []*kgtypes.Relation `json:"relations"`
}

func (s *Server) handleOpenNodes(
	ctx context.Context, req *gomcp.CallToolRequest, in openNodesInput,
) (*gomcp.CallToolResult, openNodesOutput, error) {
	res, err := s.api.OpenNodes(in.Names)
	if err != nil {
		return nil, openNodesOutput{}, toolError("open_nodes", err)
	}
	return nil, openNodesOutput{Entities: res.Entities, Relations: res.Relations}, nil
}

// -- get_related -----------------------------------------------------------

type getRelatedInput struct {
	EntityName   string `json:"entityName" jsonschema:"Entity to find relations for"`
	RelationType string `json:"relationType,omitempty" jsonschema:"Restrict to this relation type"`
	Direction    string `json:"direction,omitempty" jsonschema:"outgoing, incoming, or both (default both)"`
}

type getRelatedOutput struct {
	Entities []*kgtypes.Entity `json:"entities"`
}

func (s *Server) handleGetRelated(
	ctx context.Context, req *gomcp.CallToolRequest, in getRelatedInput,
) (*gomcp.CallToolResult, getRelatedOutput, error) {
	entities, err := s.api.GetRelated(in.EntityName, in.RelationType, in.Direction)
	if err != nil {
		return nil, getRelatedOutput{}, toolError("get_related", err)
	}
	return nil, getRelatedOutput{Entities: entities}, nil
}

// -- traverse --------------------------------------------------------------

type traverseInput struct {
	StartNode  string                `json:"startNode" jsonschema:"Entity name to start from"`
	Path       []toolapi.PathStepArg `json:"path" jsonschema:"Ordered hop specifications"`
	MaxResults int                   `json:"maxResults,omitempty" jsonschema:"Cap on paths kept after each hop (default 50)"`
}

type traverseOutput struct {
	Paths    []pathOut         `json:"paths"`
	EndNodes []*kgtypes.Entity `json:"endNodes"`
}

type pathOut struct {
	Names         []string `json:"names"`
	RelationTypes []string `json:"relationTypes"`
}

func (s *Server) handleTraverse(
	ctx context.Context, req *gomcp.CallToolRequest, in traverseInput,
) (*gomcp.CallToolResult, traverseOutput, error) {
	res, err := s.api.Traverse(in.StartNode, in.Path, in.MaxResults)
	if err != nil {
		return nil, traverseOutput{}, toolError("traverse", err)
	}
	paths := make([]pathOut, 0, len(res.Paths))
	for _, p := range res.Paths {
		paths = append(paths, pathOut{Names: p.Names, RelationTypes: p.RelationTypes})
	}
	return nil, traverseOutput{Paths: paths, EndNodes: res.EndNodes}, nil
}

// -- summarize ---------------------------------------------------------

type summarizeInput struct {
	EntityNames []string `json:"entityNames,omitempty" jsonschema:"Restrict to these entity names"`
	EntityType  string   `json:"entityType,omitempty" jsonschema:"Restrict to this entity type"`
	Format      string   `json:"format" jsonschema:"brief, detailed, or stats"`
}

type summarizeOutput struct {
	Entities []summaryOut `json:"entities,omitempty"`
	Stats    *statsOut    `json:"stats,omitempty"`
}

type summaryOut struct {
	Name        string `json:"name"`
	EntityType  string `json:"entityType"`
	Observation string `json:"observation,omitempty"`
}

type statsOut struct {
	ByType     map[string]int `json:"byType"`
	ByStatus   map[string]int `json:"byStatus"`
	ByPriority map[string]int `json:"byPriority"`
}

func (s *Server) handleSummarize(
	ctx context.Context, req *gomcp.CallToolRequest, in summarizeInput,
) (*gomcp.CallToolResult, summarizeOutput, error) {
	res, err := s.api.Summarize(in.EntityNames, in.EntityType, in.Format)
	if err != nil {
		return nil, summarizeOutput{}, toolError("summarize", err)
	}
	out := summarizeOutput{}
	if res.Stats != nil {
		out.Stats = &statsOut{ByType: res.Stats.ByType, ByStatus: res.Stats.ByStatus, ByPriority: res.Stats.ByPriority}
	}
	for _, e := range res.Entities {
		out.Entities = append(out.Entities, summaryOut{Name: e.Name, EntityType: e.EntityType, Observation: e.Observation})
	}
	return nil, out, nil
}

// -- get_relations_at_time ---------------------------------------------

type getRelationsAtTimeInput struct {
	Timestamp  uint64 `json:"timestamp,omitempty" jsonschema:"Seconds-since-epoch; 0 means now"`
	EntityName string `json:"entityName,omitempty" jsonschema:"Restrict to relations touching this entity"`
}

type getRelationsAtTimeOutput struct {
	Relations []*kgtypes.Relation `json:"relations"`
}

func (s *Server) handleGetRelationsAtTime(
	ctx context.Context, req *gomcp.CallToolRequest, in getRelationsAtTimeInput,
) (*gomcp.CallToolResult, getRelationsAtTimeOutput, error) {
	relations := s.api.GetRelationsAtTime(in.Timestamp, in.EntityName)
	return nil, getRelationsAtTimeOutput{Relations: relations}, nil
}

// -- get_relation_history -------------------------------------------------

type getRelationHistoryInput struct {
	EntityName string `json:"entityName" jsonschema:"Entity to retrieve relation history for"`
}

type getRelationHistoryOutput struct {
	Relations []*kgtypes.Relation `json:"relations"`
}

func (s *Server) handleGetRelationHistory(
	ctx context.Context, req *gomcp.CallToolRequest, in getRelationHistoryInput,
) (*gomcp.CallToolResult, getRelationHistoryOutput, error) {
	relations, err := s.api.GetRelationHistory(in.EntityName)
	if err != nil {
		return nil, getRelationHistoryOutput{}, toolError("get_relation_history", err)
	}
	return nil, getRelationHistoryOutput{Relations: relations}, nil
}

// -- get_current_time -------------------------------------------------

type getCurrentTimeInput struct{}

func (s *Server) handleGetCurrentTime(
	ctx context.Context, req *gomcp.CallToolRequest, in getCurrentTimeInput,
) (*gomcp.CallToolResult, toolapi.CurrentTime, error) {
	return nil, s.api.GetCurrentTime(), nil
}

// -- infer ---------------------------------------------------------------

type inferInput struct {
	EntityName    string  `json:"entityName" jsonschema:"Entity to derive transitive relations from"`
	MinConfidence float64 `json:"minConfidence,omitempty" jsonschema:"Minimum confidence to keep, 0..1 (default 0.5)"`
	MaxDepth      int     `json:"maxDepth,omitempty" jsonschema:"Maximum BFS depth, 1..5 (default 3)"`
}

type inferOutput struct {
	Inferences []inference.InferredRelation `json:"inferences"`
	Stats      inference.Stats              `json:"stats"`
}

func (s *Server) handleInfer(
	ctx context.Context, req *gomcp.CallToolRequest, in inferInput,
) (*gomcp.CallToolResult, inferOutput, error) {
	minConfidence := in.MinConfidence
	if minConfidence == 0 {
		minConfidence = 0.5
	}
	maxDepth := in.MaxDepth
	if maxDepth == 0 {
		maxDepth = 3
	}
	res, err := s.api.Infer(in.EntityName, minConfidence, maxDepth)
	if err != nil {
		return nil, inferOutput{}, toolError("infer", err)
	}
	return nil, inferOutput{Inferences: res.Inferences, Stats: res.Stats}, nil
}
