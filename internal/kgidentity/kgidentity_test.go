package kgidentity_test

import (
	"testing"

	"github.com/kgraphd/kgraphd/internal/kgidentity"
)

func TestResolvePrefersExplicitOverride(t *testing.T) {
	got := kgidentity.Resolve("alice", t.TempDir())
	if got != "alice" {
		t.Fatalf("Resolve = %q, want alice", got)
	}
}

func TestResolveFallsBackWhenNotAGitRepo(t *testing.T) {
	t.Setenv("USER", "envuser")
	got := kgidentity.Resolve("", t.TempDir())
	if got != "envuser" {
		t.Fatalf("Resolve = %q, want envuser (from $USER, not a git repo)", got)
	}
}

func TestResolveFallsBackToAnonymous(t *testing.T) {
	t.Setenv("USER", "")
	t.Setenv("USERNAME", "")
	got := kgidentity.Resolve("", t.TempDir())
	if got != "anonymous" {
		t.Fatalf("Resolve = %q, want anonymous", got)
	}
}
