package searchindex

import (
	"strings"

	"github.com/coregx/ahocorasick"
)

// synonymGroups are compile-time groups of phrases treated as equivalent
// for search purposes. Each group covers one recurring vocabulary area
// this kind of knowledge graph accumulates: roles, work-item language,
// statuses, priorities, and project-management/architecture terms.
var synonymGroups = [][]string{
	{"coder", "programmer", "developer", "engineer", "dev", "software engineer", "software developer"},
	{"frontend", "front-end", "ui developer", "client-side"},
	{"backend", "back-end", "server-side", "api developer"},
	{"fullstack", "full-stack", "full stack"},
	{"devops", "sre", "infrastructure", "platform engineer"},
	{"bug", "issue", "defect", "error", "problem", "fault", "glitch"},
	{"fix", "patch", "hotfix", "bugfix", "repair", "resolve"},
	{"feature", "functionality", "capability", "enhancement"},
	{"task", "ticket", "work item", "story", "user story"},
	{"requirement", "spec", "specification", "req"},
	{"done", "completed", "finished", "resolved", "closed"},
	{"pending", "waiting", "blocked", "on hold"},
	{"in progress", "wip", "ongoing", "active", "working"},
	{"todo", "to do", "planned", "backlog"},
	{"critical", "urgent", "p0", "blocker", "showstopper"},
	{"high", "important", "p1"},
	{"medium", "normal", "p2"},
	{"low", "minor", "p3"},
	{"milestone", "release", "version", "sprint"},
	{"deadline", "due date", "target date"},
	{"project", "repo", "repository", "codebase"},
	{"doc", "docs", "documentation", "readme", "guide"},
	{"api", "interface", "endpoint"},
	{"test", "testing", "qa", "quality assurance"},
	{"unit test", "unittest"},
	{"integration test", "e2e", "end-to-end"},
	{"module", "component", "service", "package"},
	{"database", "db", "datastore", "storage"},
	{"cache", "caching", "redis", "memcached"},
}

// SynonymTable resolves a query term to the group of phrases it belongs
// to, so that a search for "coder" also matches entities described as
// "developer" or "software engineer".
type SynonymTable struct {
	groups        [][]string
	phraseToGroup map[string]int
	patternPhrase []string
	ac            *ahocorasick.Automaton
}

func newSynonymTable(groups [][]string) *SynonymTable {
	t := &SynonymTable{
		groups:        groups,
		phraseToGroup: make(map[string]int),
	}

	var patterns []string
	for gi, group := range groups {
		for _, phrase := range group {
			np := normalizePhrase(phrase)
			if np == "" {
				continue
			}
			if _, exists := t.phraseToGroup[np]; exists {
				continue
			}
			t.phraseToGroup[np] = gi
			t.patternPhrase = append(t.patternPhrase, np)
			patterns = append(patterns, np)
		}
	}

	automaton, err := ahocorasick.NewBuilder().
		AddStrings(patterns).
		SetMatchKind(ahocorasick.LeftmostLongest).
		Build()
	if err == nil {
		t.ac = automaton
	}
	return t
}

func normalizePhrase(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// GetSynonyms returns the full set of phrases equivalent to q: the exact
// group if q is a known phrase, the union of every group whose phrase
// appears in (or contains) q, or [q] itself if nothing matches.
func (t *SynonymTable) GetSynonyms(q string) []string {
	nq := normalizePhrase(q)
	if nq == "" {
		return []string{q}
	}
	if gi, ok := t.phraseToGroup[nq]; ok {
		return append([]string(nil), t.groups[gi]...)
	}

	matchedGroups := map[int]bool{}
	if t.ac != nil {
		for _, m := range t.ac.FindAllOverlapping([]byte(nq)) {
			if m.PatternID < 0 || m.PatternID >= len(t.patternPhrase) {
				continue
			}
			if gi, ok := t.phraseToGroup[t.patternPhrase[m.PatternID]]; ok {
				matchedGroups[gi] = true
			}
		}
	}
	for phrase, gi := range t.phraseToGroup {
		if strings.Contains(phrase, nq) {
			matchedGroups[gi] = true
		}
	}

	if len(matchedGroups) == 0 {
		return []string{q}
	}

	seen := map[string]bool{}
	var out []string
	for gi := range matchedGroups {
		for _, p := range t.groups[gi] {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

// MatchesWithSynonyms reports whether any of terms appears as a substring
// of the lowercased text.
func MatchesWithSynonyms(text string, terms []string) bool {
	lower := strings.ToLower(text)
	for _, term := range terms {
		if strings.Contains(lower, strings.ToLower(term)) {
			return true
		}
	}
	return false
}
