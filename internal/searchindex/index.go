// Package searchindex maintains the inverted token index, entity-type
// index, and name index the Knowledge Base uses to answer search_nodes
// without a full graph scan, plus the synonym expansion table that backs
// it.
package searchindex

import (
	"sort"
	"strings"
	"sync"

	"github.com/kgraphd/kgraphd/internal/kgtypes"
	"github.com/orsinium-labs/stopwords"
)

var defaultSynonyms = newSynonymTable(synonymGroups)

// Index is the incrementally maintained inverted index over a knowledge
// graph. It holds its own reader-preferring lock so lookups can proceed
// concurrently with a slow rebuild of one entity's entries.
type Index struct {
	mu       sync.RWMutex
	tokens   map[string]map[string]bool
	byType   map[string]map[string]bool
	byName   map[string]*kgtypes.Entity
	synonyms *SynonymTable
	stop     *stopwords.Stopwords
}

// New returns an empty Index, ready for IndexEntity calls.
func New() *Index {
	return &Index{
		tokens:   make(map[string]map[string]bool),
		byType:   make(map[string]map[string]bool),
		byName:   make(map[string]*kgtypes.Entity),
		synonyms: defaultSynonyms,
		stop:     stopwords.MustGet("en"),
	}
}

// IndexEntity adds e to every relevant structure.
func (idx *Index) IndexEntity(e *kgtypes.Entity) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.indexLocked(e)
}

// RemoveEntity drops name from every structure it currently appears in.
func (idx *Index) RemoveEntity(name string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(name)
}

// UpdateEntity is remove-then-index, so stale tokens from a prior
// entityType or observation set never linger.
func (idx *Index) UpdateEntity(e *kgtypes.Entity) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(e.Name)
	idx.indexLocked(e)
}

func (idx *Index) indexLocked(e *kgtypes.Entity) {
	idx.byName[e.Name] = e

	typeKey := strings.ToLower(e.EntityType)
	if idx.byType[typeKey] == nil {
		idx.byType[typeKey] = make(map[string]bool)
	}
	idx.byType[typeKey][e.Name] = true

	for _, tok := range idx.tokensFor(e) {
		if idx.tokens[tok] == nil {
			idx.tokens[tok] = make(map[string]bool)
		}
		idx.tokens[tok][e.Name] = true
	}
}

func (idx *Index) removeLocked(name string) {
	e, ok := idx.byName[name]
	if !ok {
		return
	}
	delete(idx.byName, name)

	typeKey := strings.ToLower(e.EntityType)
	if set := idx.byType[typeKey]; set != nil {
		delete(set, name)
		if len(set) == 0 {
			delete(idx.byType, typeKey)
		}
	}

	for _, tok := range idx.tokensFor(e) {
		if set := idx.tokens[tok]; set != nil {
			delete(set, name)
			if len(set) == 0 {
				delete(idx.tokens, tok)
			}
		}
	}
}

// tokensFor builds the deduplicated set of index tokens for e: raw chunks
// of name and entityType, plus stopword-filtered chunks of every
// observation.
func (idx *Index) tokensFor(e *kgtypes.Entity) []string {
	seen := map[string]bool{}
	var out []string
	add := func(toks []string) {
		for _, t := range toks {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	add(tokenizeText(e.Name))
	add(tokenizeText(e.EntityType))
	for _, o := range e.Observations {
		add(idx.filterStopwords(tokenizeText(o)))
	}
	return out
}

// GetEntity is the O(1) name -> entity lookup.
func (idx *Index) GetEntity(name string) (*kgtypes.Entity, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.byName[name]
	return e, ok
}

// GetByType returns every entity name whose entityType case-insensitively
// equals entityType, sorted for deterministic output.
func (idx *Index) GetByType(entityType string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	set := idx.byType[strings.ToLower(entityType)]
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Lookup returns every entity name associated with term: an exact token
// hit if one exists, otherwise the union of every token containing term
// as a substring (prefix/substring match fallback).
func (idx *Index) Lookup(term string) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	term = strings.ToLower(term)
	names := map[string]bool{}
	if set, ok := idx.tokens[term]; ok {
		for n := range set {
			names[n] = true
		}
	} else {
		for tok, set := range idx.tokens {
			if strings.Contains(tok, term) {
				for n := range set {
					names[n] = true
				}
			}
		}
	}
	out := make([]string, 0, len(names))
	for n := range names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// SearchCandidates expands query through the synonym table and unions the
// Lookup result for every resulting term.
func (idx *Index) SearchCandidates(query string) []string {
	terms := idx.synonyms.GetSynonyms(query)
	seen := map[string]bool{}
	var out []string
	for _, term := range terms {
		for _, name := range idx.Lookup(term) {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Len reports how many entities are currently indexed.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.byName)
}
