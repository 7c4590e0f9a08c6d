package kb

import (
	"github.com/kgraphd/kgraphd/internal/inference"
	"github.com/kgraphd/kgraphd/internal/kgtypes"
)

// Infer copies the current graph under the read lock, builds a fresh
// adjacency snapshot, and runs every registered inference rule against
// it. Nothing it derives is ever persisted.
func (k *KB) Infer(targetName string, minConfidence float64, maxDepth int) ([]inference.InferredRelation, inference.Stats) {
	k.mu.RLock()
	entities := make([]*kgtypes.Entity, 0, len(k.entities))
	for _, e := range k.entities {
		entities = append(entities, e)
	}
	relations := make([]*kgtypes.Relation, 0, len(k.relations))
	for _, r := range k.relations {
		relations = append(relations, r)
	}
	k.mu.RUnlock()

	graph := inference.NewGraph(entities, relations)
	return k.inference.Infer(graph, targetName, minConfidence, maxDepth)
}
