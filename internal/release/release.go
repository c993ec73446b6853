// Package release implements release-branch discovery and the release-delta
// report: which commits a release carries over its predecessor, what kind of
// changes they are and which of them touch database migrations.
package release

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/yamada-k/git-insights/internal/classify"
	"github.com/yamada-k/git-insights/internal/collector"
	"github.com/yamada-k/git-insights/internal/domain"
)

const (
	maxReleases    = 3
	maxDiffCommits = 100

	// Majors outside this band encode a calendar year, not a version.
	minMajor = 22
	maxMajor = 99
)

var branchPattern = regexp.MustCompile(`^release/v?(\d+)\.(\d+)$`)

// Engine builds release reports for one organization.
type Engine struct {
	collector collector.Collector
	rules     *classify.Rules
	logger    *logrus.Logger
}

// NewEngine creates a release engine on top of the given collector.
func NewEngine(coll collector.Collector, rules *classify.Rules, logger *logrus.Logger) *Engine {
	return &Engine{collector: coll, rules: rules, logger: logger}
}

// ParseBranch parses a branch into a release branch. Branches whose major
// number falls outside the accepted band are rejected.
func ParseBranch(b domain.Branch) (domain.ReleaseBranch, bool) {
	m := branchPattern.FindStringSubmatch(b.Name)
	if m == nil {
		return domain.ReleaseBranch{}, false
	}
	major, err := strconv.Atoi(m[1])
	if err != nil || major < minMajor || major > maxMajor {
		return domain.ReleaseBranch{}, false
	}
	minor, err := strconv.Atoi(m[2])
	if err != nil {
		return domain.ReleaseBranch{}, false
	}
	return domain.ReleaseBranch{
		Name:          b.Name,
		Version:       domain.Version{Major: major, Minor: minor, Raw: fmt.Sprintf("%d.%d", major, minor)},
		CommittedDate: b.CommittedDate,
	}, true
}

// DiscoverReleases lists a repository's branches and returns its release
// branches, most recently committed first, at most maxReleases of them.
func (e *Engine) DiscoverReleases(ctx context.Context, org, repo string) ([]domain.ReleaseBranch, error) {
	branches, err := e.collector.ListBranches(ctx, org, repo)
	if err != nil {
		return nil, err
	}

	var releases []domain.ReleaseBranch
	for _, b := range branches {
		if rb, ok := ParseBranch(b); ok {
			releases = append(releases, rb)
		}
	}
	sort.Slice(releases, func(i, j int) bool {
		return releases[i].CommittedDate.After(releases[j].CommittedDate)
	})
	if len(releases) > maxReleases {
		releases = releases[:maxReleases]
	}
	return releases, nil
}

// AdjacentReports compares each discovered release against its immediate
// predecessor in recency order.
func (e *Engine) AdjacentReports(ctx context.Context, org, repo string) ([]domain.ReleaseReport, error) {
	releases, err := e.DiscoverReleases(ctx, org, repo)
	if err != nil {
		return nil, err
	}

	var reports []domain.ReleaseReport
	for i := 0; i+1 < len(releases); i++ {
		reports = append(reports, e.buildReport(ctx, org, repo, releases[i+1], releases[i]))
	}
	return reports, nil
}

// CrossRepoReports finds the major-version pairs one apart across all repos
// and, for every repo, either compares the two releases or records that one
// of them is missing. Discovery failures skip the repo; comparison failures
// degrade to an error entry and the run continues.
func (e *Engine) CrossRepoReports(ctx context.Context, org string, repos []string) []domain.ReleaseReport {
	// Newest release branch per major, per repo.
	byRepo := make(map[string]map[int]domain.ReleaseBranch)
	majors := make(map[int]bool)
	for _, repo := range repos {
		releases, err := e.DiscoverReleases(ctx, org, repo)
		if err != nil {
			e.logger.WithError(err).WithField("repo", repo).Warn("Release discovery failed, skipping repo")
			continue
		}
		perMajor := make(map[int]domain.ReleaseBranch)
		for _, rb := range releases {
			cur, ok := perMajor[rb.Version.Major]
			if !ok || rb.CommittedDate.After(cur.CommittedDate) {
				perMajor[rb.Version.Major] = rb
			}
			majors[rb.Version.Major] = true
		}
		byRepo[repo] = perMajor
	}

	var pairs [][2]int // {base, head} majors
	for major := range majors {
		if majors[major+1] {
			pairs = append(pairs, [2]int{major, major + 1})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i][0] > pairs[j][0] })

	sortedRepos := make([]string, 0, len(byRepo))
	for repo := range byRepo {
		sortedRepos = append(sortedRepos, repo)
	}
	sort.Strings(sortedRepos)

	var reports []domain.ReleaseReport
	for _, pair := range pairs {
		baseMajor, headMajor := pair[0], pair[1]
		for _, repo := range sortedRepos {
			base, hasBase := byRepo[repo][baseMajor]
			head, hasHead := byRepo[repo][headMajor]
			if !hasBase || !hasHead {
				reports = append(reports, missingReport(repo, base, hasBase, head, hasHead, baseMajor, headMajor))
				continue
			}
			reports = append(reports, e.buildReport(ctx, org, repo, base, head))
		}
	}
	return reports
}

func missingReport(repo string, base domain.ReleaseBranch, hasBase bool, head domain.ReleaseBranch, hasHead bool, baseMajor, headMajor int) domain.ReleaseReport {
	baseLabel := fmt.Sprintf("%d.x", baseMajor)
	if hasBase {
		baseLabel = base.Version.Raw
	}
	headLabel := fmt.Sprintf("%d.x", headMajor)
	if hasHead {
		headLabel = head.Version.Raw
	}
	return domain.ReleaseReport{
		App:         repo,
		Status:      domain.ComparisonMissingRelease,
		BaseRelease: baseLabel,
		HeadRelease: headLabel,
	}
}

// buildReport compares base..head and classifies the resulting commits. A
// failed comparison never aborts the batch; it yields an error entry with no
// commits and a nil change flag.
func (e *Engine) buildReport(ctx context.Context, org, repo string, base, head domain.ReleaseBranch) domain.ReleaseReport {
	report := domain.ReleaseReport{
		App:         repo,
		Path:        base.Name + "..." + head.Name,
		BaseRelease: base.Version.Raw,
		HeadRelease: head.Version.Raw,
	}

	diff, err := e.collector.CompareReleases(ctx, org, repo, base.Name, head.Name)
	if err != nil {
		e.logger.WithError(err).WithFields(logrus.Fields{
			"repo": repo,
			"path": report.Path,
		}).Warn("Release comparison failed")
		report.Status = domain.ComparisonError
		return report
	}

	report.Status = domain.ComparisonOK
	report.ChangeCount = diff.TotalCommits
	report.AheadBy = diff.AheadBy
	report.BehindBy = diff.BehindBy
	hasChanges := diff.TotalCommits > 0
	report.HasChanges = &hasChanges

	commits := diff.Commits
	if len(commits) > maxDiffCommits {
		commits = commits[:maxDiffCommits]
	}

	typeCounts := make(map[string]int)
	for _, c := range commits {
		info := domain.CommitInfo{
			SHA:     c.SHA,
			Subject: firstLine(c.Message),
			Type:    e.rules.CommitType(c.Message),
			Date:    c.Date,
			Author:  c.Author,
		}
		if n, ok := e.rules.ExtractPRNumber(c.Message); ok {
			info.PRNumber = n
			info.PRURL = fmt.Sprintf("https://github.com/%s/%s/pull/%d", org, repo, n)
		}
		typeCounts[info.Type]++

		// Migration risks need both a migration pattern and a resolved PR
		// reference; pattern-only hits stay out of the report.
		if info.PRNumber != 0 && e.rules.IsMigrationRisk(c.Message) {
			report.DBMigrations = append(report.DBMigrations, info)
		}
		report.Commits = append(report.Commits, info)
	}

	for _, m := range e.rules.CommitTypes {
		if typeCounts[m.Tag] > 0 {
			report.TypeDistribution = append(report.TypeDistribution, domain.LabelCount{
				Label: m.Tag,
				Count: typeCounts[m.Tag],
			})
		}
	}
	return report
}

func firstLine(message string) string {
	if i := strings.IndexByte(message, '\n'); i >= 0 {
		return strings.TrimRight(message[:i], "\r")
	}
	return message
}
