package kb

import (
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/kgraphd/kgraphd/internal/kgtypes"
)

// sortedEntityNames returns every current entity name, sorted, for
// deterministic pagination and iteration order.
func (k *KB) sortedEntityNames() []string {
	names := make([]string, 0, len(k.entities))
	for n := range k.entities {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ReadGraph returns a page of entities (offset/limit over the sorted name
// list) together with every relation touching one of them.
func (k *KB) ReadGraph(limit, offset int) ([]*kgtypes.Entity, []*kgtypes.Relation) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	names := k.sortedEntityNames()
	if offset < 0 {
		offset = 0
	}
	if offset > len(names) {
		offset = len(names)
	}
	end := len(names)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	page := names[offset:end]

	pageSet := make(map[string]bool, len(page))
	entities := make([]*kgtypes.Entity, 0, len(page))
	for _, n := range page {
		pageSet[n] = true
		entities = append(entities, k.entities[n])
	}

	var relations []*kgtypes.Relation
	for _, r := range k.relations {
		if pageSet[r.From] || pageSet[r.To] {
			relations = append(relations, r)
		}
	}
	return entities, relations
}

// SearchNodes expands query through synonyms and the inverted index; if
// that returns nothing it falls back to a full scan of every entity
// (parallelized above ParallelScanAbove entities), truncates to limit,
// and optionally attaches relations touching any returned entity.
func (k *KB) SearchNodes(query string, limit int, includeRelations bool) ([]*kgtypes.Entity, []*kgtypes.Relation) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	names := k.index.SearchCandidates(query)
	var entities []*kgtypes.Entity
	if len(names) > 0 {
		for _, n := range names {
			if e, ok := k.entities[n]; ok {
				entities = append(entities, e)
			}
		}
	} else {
		entities = k.fullScan(query)
	}

	sort.Slice(entities, func(i, j int) bool { return entities[i].Name < entities[j].Name })
	if limit > 0 && len(entities) > limit {
		entities = entities[:limit]
	}

	if !includeRelations {
		return entities, nil
	}
	resultSet := make(map[string]bool, len(entities))
	for _, e := range entities {
		resultSet[e.Name] = true
	}
	var relations []*kgtypes.Relation
	for _, r := range k.relations {
		if resultSet[r.From] || resultSet[r.To] {
			relations = append(relations, r)
		}
	}
	return entities, relations
}

// fullScan checks every entity's name, entityType, and observations for a
// case-insensitive substring match on query. Above ParallelScanAbove
// entities the work is split across workers; callers must hold at least
// the read lock.
func (k *KB) fullScan(query string) []*kgtypes.Entity {
	q := strings.ToLower(query)
	matches := func(e *kgtypes.Entity) bool {
		if strings.Contains(strings.ToLower(e.Name), q) || strings.Contains(strings.ToLower(e.EntityType), q) {
			return true
		}
		for _, o := range e.Observations {
			if strings.Contains(strings.ToLower(o), q) {
				return true
			}
		}
		return false
	}

	if len(k.entities) <= k.parallelScanAbove {
		var out []*kgtypes.Entity
		for _, e := range k.entities {
			if matches(e) {
				out = append(out, e)
			}
		}
		return out
	}

	all := make([]*kgtypes.Entity, 0, len(k.entities))
	for _, e := range k.entities {
		all = append(all, e)
	}

	workers := runtime.GOMAXPROCS(0)
	if workers < 2 {
		workers = 2
	}
	chunk := (len(all) + workers - 1) / workers
	var mu sync.Mutex
	var out []*kgtypes.Entity
	var wg sync.WaitGroup
	for start := 0; start < len(all); start += chunk {
		end := start + chunk
		if end > len(all) {
			end = len(all)
		}
		wg.Add(1)
		go func(slice []*kgtypes.Entity) {
			defer wg.Done()
			var local []*kgtypes.Entity
			for _, e := range slice {
				if matches(e) {
					local = append(local, e)
				}
			}
			if len(local) > 0 {
				mu.Lock()
				out = append(out, local...)
				mu.Unlock()
			}
		}(all[start:end])
	}
	wg.Wait()
	return out
}

// OpenNodes returns the entities named, in O(1) per name, along with
// every relation whose both endpoints are in that set.
func (k *KB) OpenNodes(names []string) ([]*kgtypes.Entity, []*kgtypes.Relation) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	set := make(map[string]bool, len(names))
	var entities []*kgtypes.Entity
	for _, n := range names {
		if e, ok := k.entities[n]; ok {
			set[n] = true
			entities = append(entities, e)
		}
	}
	var relations []*kgtypes.Relation
	for _, r := range k.relations {
		if set[r.From] && set[r.To] {
			relations = append(relations, r)
		}
	}
	return entities, relations
}

// GetRelated returns, for every relation touching name in the requested
// direction (and matching relationType if given), the entity at the
// other endpoint.
func (k *KB) GetRelated(name, relationType, direction string) []*kgtypes.Entity {
	k.mu.RLock()
	defer k.mu.RUnlock()

	var others []string
	for _, r := range k.relations {
		if relationType != "" && r.RelationType != relationType {
			continue
		}
		switch direction {
		case DirectionIncoming:
			if r.To == name {
				others = append(others, r.From)
			}
		case DirectionBoth:
			if r.From == name {
				others = append(others, r.To)
			} else if r.To == name {
				others = append(others, r.From)
			}
		default: // outgoing
			if r.From == name {
				others = append(others, r.To)
			}
		}
	}

	var result []*kgtypes.Entity
	for _, n := range others {
		if e, ok := k.entities[n]; ok {
			result = append(result, e)
		}
	}
	return result
}

// Traverse performs a bounded multi-hop expansion from start, following
// path one step at a time and truncating the frontier to maxResults after
// every step.
func (k *KB) Traverse(start string, path []PathStep, maxResults int) TraverseResult {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if _, ok := k.entities[start]; !ok {
		return TraverseResult{}
	}

	frontier := []Path{{Names: []string{start}, RelationTypes: nil}}
	for _, step := range path {
		var next []Path
		for _, p := range frontier {
			cur := p.Names[len(p.Names)-1]
			for _, r := range k.relations {
				if r.RelationType != step.RelationType {
					continue
				}
				var endpoint string
				switch step.Direction {
				case "in":
					if r.To != cur {
						continue
					}
					endpoint = r.From
				default: // "out"
					if r.From != cur {
						continue
					}
					endpoint = r.To
				}
				e, ok := k.entities[endpoint]
				if !ok {
					continue
				}
				if step.TargetType != "" && !strings.EqualFold(e.EntityType, step.TargetType) {
					continue
				}
				names := append(append([]string(nil), p.Names...), endpoint)
				relTypes := append(append([]string(nil), p.RelationTypes...), step.RelationType)
				next = append(next, Path{Names: names, RelationTypes: relTypes})
			}
		}
		if maxResults > 0 && len(next) > maxResults {
			next = next[:maxResults]
		}
		frontier = next
		if len(frontier) == 0 {
			break
		}
	}

	seen := make(map[string]bool)
	var endNodes []*kgtypes.Entity
	for _, p := range frontier {
		end := p.Names[len(p.Names)-1]
		if seen[end] {
			continue
		}
		seen[end] = true
		if e, ok := k.entities[end]; ok {
			endNodes = append(endNodes, e)
		}
	}
	return TraverseResult{Paths: frontier, EndNodes: endNodes}
}

// SummaryStats is the result shape for Summarize(format="stats").
type SummaryStats struct {
	ByType     map[string]int
	ByStatus   map[string]int
	ByPriority map[string]int
}

// EntitySummary is the result shape for Summarize(format="brief"|"detailed").
type EntitySummary struct {
	Name        string
	EntityType  string
	Observation string
}

// Summarize produces a brief, detailed, or stats view over the selected
// entities (by name list, by entityType, or every entity if both are
// empty).
func (k *KB) Summarize(names []string, entityType, format string) ([]EntitySummary, *SummaryStats) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	var selected []*kgtypes.Entity
	switch {
	case len(names) > 0:
		for _, n := range names {
			if e, ok := k.entities[n]; ok {
				selected = append(selected, e)
			}
		}
	case entityType != "":
		for _, n := range k.index.GetByType(entityType) {
			if e, ok := k.entities[n]; ok {
				selected = append(selected, e)
			}
		}
	default:
		for _, n := range k.sortedEntityNames() {
			selected = append(selected, k.entities[n])
		}
	}

	if format == FormatStats {
		stats := &SummaryStats{ByType: map[string]int{}, ByStatus: map[string]int{}, ByPriority: map[string]int{}}
		for _, e := range selected {
			stats.ByType[e.EntityType]++
			for _, o := range e.Observations {
				if v, ok := strings.CutPrefix(o, "Status:"); ok {
					stats.ByStatus[strings.TrimSpace(v)]++
				}
				if v, ok := strings.CutPrefix(o, "Priority:"); ok {
					stats.ByPriority[strings.TrimSpace(v)]++
				}
			}
		}
		return nil, stats
	}

	summaries := make([]EntitySummary, 0, len(selected))
	for _, e := range selected {
		s := EntitySummary{Name: e.Name, EntityType: e.EntityType}
		switch format {
		case FormatDetailed:
			s.Observation = strings.Join(e.Observations, "; ")
		default: // brief
			if len(e.Observations) > 0 {
				first := e.Observations[0]
				if len(first) > 100 {
					first = first[:100]
				}
				s.Observation = first
			}
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

// GetRelationsAtTime returns every relation whose temporal window
// contains t, optionally restricted to those touching entity.
func (k *KB) GetRelationsAtTime(t uint64, entity string) []*kgtypes.Relation {
	k.mu.RLock()
	defer k.mu.RUnlock()

	var out []*kgtypes.Relation
	for _, r := range k.relations {
		if !r.ActiveAt(t) {
			continue
		}
		if entity != "" && r.From != entity && r.To != entity {
			continue
		}
		out = append(out, r)
	}
	return out
}

// GetRelationHistory returns every relation touching entity regardless of
// temporal validity.
func (k *KB) GetRelationHistory(entity string) []*kgtypes.Relation {
	k.mu.RLock()
	defer k.mu.RUnlock()

	var out []*kgtypes.Relation
	for _, r := range k.relations {
		if r.From == entity || r.To == entity {
			out = append(out, r)
		}
	}
	return out
}
