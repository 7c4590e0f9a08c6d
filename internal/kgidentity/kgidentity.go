// Package kgidentity resolves the acting user for a mutation: the
// Knowledge Base records createdBy/updatedBy on every entity and
// relation, and this package is where that value comes from when a
// caller doesn't supply one explicitly.
package kgidentity

import (
	"os"
	"os/exec"
	"strings"
)

// Resolve determines the acting user by, in order: the explicit
// override, the repo's git user.name, the USER/USERNAME environment
// variable, finally "anonymous".
func Resolve(override, repoPath string) string {
	if override != "" {
		return override
	}
	if name, err := gitConfigValue(repoPath, "user.name"); err == nil && name != "" {
		return name
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	if u := os.Getenv("USERNAME"); u != "" {
		return u
	}
	return "anonymous"
}

// gitConfigValue runs git config to read key from repoPath's config,
// gracefully erroring when git is unavailable or repoPath isn't a repo.
func gitConfigValue(repoPath, key string) (string, error) {
	if _, err := exec.LookPath("git"); err != nil {
		return "", err
	}
	probe := exec.Command("git", "rev-parse", "--git-dir")
	probe.Dir = repoPath
	if err := probe.Run(); err != nil {
		return "", err
	}
	cmd := exec.Command("git", "config", "--get", key) //nolint:gosec // G204 - fixed argv, key is a constant
	cmd.Dir = repoPath
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
