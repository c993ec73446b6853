// Package classify holds the pattern tables used to classify records during
// aggregation: bot authors, issue keys, feature-branch merges, conventional
// commits and migration risks. The tables are plain data so the policy can
// be unit-tested independently of the fetch pipeline.
package classify

import (
	"fmt"
	"regexp"
	"strconv"
)

// Matcher is a tagged pattern. Matchers are evaluated in order; the first
// match wins.
type Matcher struct {
	Tag     string
	Pattern *regexp.Regexp
}

// Rules is the full classification policy.
type Rules struct {
	// BotAuthors match logins to exclude from contributor statistics.
	BotAuthors []*regexp.Regexp

	// IssueKey captures an issue key in free text. Group 1 is the full key,
	// group 2 the project prefix.
	IssueKey *regexp.Regexp

	// EpicMarker marks a PR title as contributing to an epic bucket.
	EpicMarker *regexp.Regexp

	// FeatureBranchMerge matches PR titles whose size must not enter the
	// average-size calculation.
	FeatureBranchMerge []*regexp.Regexp

	// CommitTypes are the conventional-commit prefixes, in report order.
	CommitTypes []Matcher

	// MigrationRisk matches commit messages associated with schema or data
	// migrations.
	MigrationRisk []Matcher

	// PRRef captures a linked pull request number in a commit message.
	PRRef *regexp.Regexp
}

// CommitTypeOther is assigned to commits matching no conventional prefix.
// It is excluded from the type-distribution report but kept in raw counts.
const CommitTypeOther = "other"

var commitTypeTags = []string{
	"feat", "fix", "chore", "docs", "refactor", "test", "style", "perf", "ci", "build",
}

// DefaultRules returns the built-in classification policy.
func DefaultRules() *Rules {
	types := make([]Matcher, 0, len(commitTypeTags))
	for _, tag := range commitTypeTags {
		types = append(types, Matcher{
			Tag:     tag,
			Pattern: regexp.MustCompile(fmt.Sprintf(`(?i)^%s(\([^)]*\))?!?:`, tag)),
		})
	}

	return &Rules{
		BotAuthors: []*regexp.Regexp{
			regexp.MustCompile(`\[bot\]$`),
			regexp.MustCompile(`(?i)bot$`),
			regexp.MustCompile(`(?i)^(dependabot|renovate|github-actions|snyk-)`),
		},
		IssueKey:   regexp.MustCompile(`\b(([A-Z][A-Z0-9]+)-\d+)\b`),
		EpicMarker: regexp.MustCompile(`(?i)\[epic\]|\bepic:`),
		FeatureBranchMerge: []*regexp.Regexp{
			regexp.MustCompile(`^feat/[A-Z][A-Z0-9]+-\d+`),
			regexp.MustCompile(`(?i)^merge (branch|pull request) .*feat/[A-Z][A-Z0-9]+-\d+`),
		},
		CommitTypes: types,
		MigrationRisk: []Matcher{
			{Tag: "sql-file", Pattern: regexp.MustCompile(`(?i)\S+\.sql\b`)},
			{Tag: "migration", Pattern: regexp.MustCompile(`(?i)\bmigrations?\b`)},
			{Tag: "schema-change", Pattern: regexp.MustCompile(`(?i)\bschema changes?\b`)},
			{Tag: "alembic", Pattern: regexp.MustCompile(`(?i)\balembic\b`)},
			{Tag: "flyway", Pattern: regexp.MustCompile(`(?i)\bflyway\b`)},
			{Tag: "liquibase", Pattern: regexp.MustCompile(`(?i)\bliquibase\b`)},
		},
		PRRef: regexp.MustCompile(`#(\d+)`),
	}
}

// IsBot reports whether the author login matches a bot heuristic.
func (r *Rules) IsBot(login string) bool {
	for _, p := range r.BotAuthors {
		if p.MatchString(login) {
			return true
		}
	}
	return false
}

// ExtractIssueKey returns the first issue key found in text and its project
// prefix.
func (r *Rules) ExtractIssueKey(text string) (key, project string, ok bool) {
	m := r.IssueKey.FindStringSubmatch(text)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}

// ExtractIssueKeys returns every distinct issue key found in text, in order
// of first appearance.
func (r *Rules) ExtractIssueKeys(text string) []string {
	seen := make(map[string]bool)
	var keys []string
	for _, m := range r.IssueKey.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			keys = append(keys, m[1])
		}
	}
	return keys
}

// IsEpicReference reports whether a PR title carries the epic marker.
func (r *Rules) IsEpicReference(title string) bool {
	return r.EpicMarker.MatchString(title)
}

// IsFeatureBranchMerge reports whether the PR title looks like a
// feature-branch merge, whose size would dominate the average.
func (r *Rules) IsFeatureBranchMerge(title string) bool {
	for _, p := range r.FeatureBranchMerge {
		if p.MatchString(title) {
			return true
		}
	}
	return false
}

// CommitType classifies a commit message against the conventional-commit
// prefixes. Unmatched messages classify as CommitTypeOther.
func (r *Rules) CommitType(message string) string {
	for _, m := range r.CommitTypes {
		if m.Pattern.MatchString(message) {
			return m.Tag
		}
	}
	return CommitTypeOther
}

// IsMigrationRisk reports whether the commit message matches a migration
// pattern.
func (r *Rules) IsMigrationRisk(message string) bool {
	for _, m := range r.MigrationRisk {
		if m.Pattern.MatchString(message) {
			return true
		}
	}
	return false
}

// ExtractPRNumber returns the first "#<digits>" token in a commit message as
// a linked pull request number.
func (r *Rules) ExtractPRNumber(message string) (int, bool) {
	m := r.PRRef.FindStringSubmatch(message)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
