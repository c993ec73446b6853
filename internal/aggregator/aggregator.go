// Package aggregator folds ingested pull-request records into
// per-contributor, per-repository and per-week rolling statistics. An
// Aggregator is owned exclusively by one aggregation run and rebuilt from
// scratch each run; the fold itself is single-threaded.
package aggregator

import (
	"sort"
	"time"

	"github.com/yamada-k/git-insights/internal/classify"
	"github.com/yamada-k/git-insights/internal/domain"
)

const (
	recentPRsPerRepo = 5
	weeklyBuckets    = 8
)

var sizeBucketLabels = []string{"xs", "s", "m", "l", "xl"}

var reviewBucketLabels = []string{"<1h", "1-4h", "4-24h", "1-3d", ">3d"}

type contributorAgg struct {
	login       string
	avatarURL   string
	prCount     int
	merged      int
	open        int
	closed      int
	changed     int
	sizeSum     int
	sizeSamples int
	reviewSum   float64
	reviewCount int
	weekly      map[string]*domain.WeekCounts
}

type repoAgg struct {
	name        string
	total       int
	open        int
	merged      int
	closed      int
	reviewSum   float64
	reviewCount int
}

// Aggregator accumulates the rolling aggregates of one run.
type Aggregator struct {
	rules        *classify.Rules
	contributors map[string]*contributorAgg
	repos        map[string]*repoAgg
	weeks        map[string]*domain.WeekCounts
	sizeHist     map[string]int
	reviewHist   map[string]int
	projects     map[string]*domain.ProjectWork
	epics        map[string]*domain.EpicWork
	rawByRepo    map[string][]domain.PullRequest
}

// New creates an empty aggregator using the given classification rules.
func New(rules *classify.Rules) *Aggregator {
	return &Aggregator{
		rules:        rules,
		contributors: make(map[string]*contributorAgg),
		repos:        make(map[string]*repoAgg),
		weeks:        make(map[string]*domain.WeekCounts),
		sizeHist:     make(map[string]int),
		reviewHist:   make(map[string]int),
		projects:     make(map[string]*domain.ProjectWork),
		epics:        make(map[string]*domain.EpicWork),
		rawByRepo:    make(map[string][]domain.PullRequest),
	}
}

// Aggregate folds one repository's pull requests into the shared aggregate
// state. Records must be processed in the order the host returned them.
func (a *Aggregator) Aggregate(repoName string, prs []domain.PullRequest) {
	repo := a.repo(repoName)

	for i := range prs {
		pr := &prs[i]

		// Raw storage keeps everything, bots included, for activity feeds.
		a.rawByRepo[repoName] = append(a.rawByRepo[repoName], *pr)

		if a.rules.IsBot(pr.Author.Login) {
			continue
		}

		if key, project, ok := a.rules.ExtractIssueKey(pr.Title); ok {
			proj := a.project(project)
			a.countByState(pr, &proj.Merged, &proj.Open, &proj.Closed)
			if a.rules.IsEpicReference(pr.Title) {
				epic := a.epic(key)
				a.countByState(pr, &epic.Merged, &epic.Open, &epic.Closed)
				epic.PRTitles = append(epic.PRTitles, pr.Title)
			}
		}

		contributor := a.contributor(pr.Author)
		contributor.prCount++
		repo.total++
		a.countByState(pr, &repo.merged, &repo.open, &repo.closed)
		a.countByState(pr, &contributor.merged, &contributor.open, &contributor.closed)

		lines := pr.ChangedLines()
		a.sizeHist[sizeBucket(lines)]++
		contributor.changed += lines
		// Feature-branch merges carry a whole branch worth of changes and
		// would dominate the average; they still count toward prCount and
		// the histogram.
		if !a.rules.IsFeatureBranchMerge(pr.Title) {
			contributor.sizeSum += lines
			contributor.sizeSamples++
		}

		week := weekStart(pr.CreatedAt)
		a.bumpWeek(a.weeks, week, pr)
		a.bumpWeek(contributor.weekly, week, pr)

		if hours, ok := hoursToFirstReview(pr); ok {
			a.reviewHist[reviewBucket(hours)]++
			contributor.reviewSum += hours
			contributor.reviewCount++
			repo.reviewSum += hours
			repo.reviewCount++
		}
	}
}

// countByState increments exactly one of the three counters. A merge
// timestamp wins over the reported state string.
func (a *Aggregator) countByState(pr *domain.PullRequest, merged, open, closed *int) {
	switch {
	case pr.Merged():
		*merged++
	case pr.State == domain.PRStateOpen:
		*open++
	default:
		*closed++
	}
}

func (a *Aggregator) bumpWeek(weeks map[string]*domain.WeekCounts, key string, pr *domain.PullRequest) {
	bucket, ok := weeks[key]
	if !ok {
		bucket = &domain.WeekCounts{WeekStart: key}
		weeks[key] = bucket
	}
	bucket.Created++
	if pr.Merged() {
		bucket.Merged++
	} else if pr.State != domain.PRStateOpen {
		bucket.Closed++
	}
}

func (a *Aggregator) contributor(author domain.Author) *contributorAgg {
	c, ok := a.contributors[author.Login]
	if !ok {
		c = &contributorAgg{
			login:     author.Login,
			avatarURL: author.AvatarURL,
			weekly:    make(map[string]*domain.WeekCounts),
		}
		a.contributors[author.Login] = c
	}
	return c
}

func (a *Aggregator) repo(name string) *repoAgg {
	r, ok := a.repos[name]
	if !ok {
		r = &repoAgg{name: name}
		a.repos[name] = r
	}
	return r
}

func (a *Aggregator) project(prefix string) *domain.ProjectWork {
	p, ok := a.projects[prefix]
	if !ok {
		p = &domain.ProjectWork{Project: prefix}
		a.projects[prefix] = p
	}
	return p
}

func (a *Aggregator) epic(key string) *domain.EpicWork {
	e, ok := a.epics[key]
	if !ok {
		e = &domain.EpicWork{Key: key}
		a.epics[key] = e
	}
	return e
}

// Report projects the accumulated state into the output shape. The
// projection is pure: calling it twice yields the same report.
func (a *Aggregator) Report() *domain.MetricsReport {
	report := &domain.MetricsReport{
		Contributors:       make([]domain.ContributorStats, 0, len(a.contributors)),
		Repositories:       make([]domain.RepositoryStats, 0, len(a.repos)),
		PRSizeDistribution: histogram(a.sizeHist, sizeBucketLabels),
		ReviewTimeData:     histogram(a.reviewHist, reviewBucketLabels),
		RecentPRsByRepo:    make(map[string][]domain.PullRequest, len(a.rawByRepo)),
		ProjectWorkData:    make([]domain.ProjectWork, 0, len(a.projects)),
		EpicWorkData:       make([]domain.EpicWork, 0, len(a.epics)),
	}

	for _, c := range a.contributors {
		stats := domain.ContributorStats{
			Login:             c.login,
			AvatarURL:         c.avatarURL,
			PRCount:           c.prCount,
			MergedPRs:         c.merged,
			OpenPRs:           c.open,
			ClosedPRs:         c.closed,
			TotalChangedLines: c.changed,
			Weekly:            sortedWeeks(c.weekly, 0),
		}
		if c.sizeSamples > 0 {
			stats.AvgPRSize = float64(c.sizeSum) / float64(c.sizeSamples)
		}
		if c.reviewCount > 0 {
			stats.AvgReviewHours = c.reviewSum / float64(c.reviewCount)
		}
		report.Contributors = append(report.Contributors, stats)
	}
	sort.Slice(report.Contributors, func(i, j int) bool {
		ci, cj := report.Contributors[i], report.Contributors[j]
		if ci.PRCount != cj.PRCount {
			return ci.PRCount > cj.PRCount
		}
		return ci.Login < cj.Login
	})

	for _, r := range a.repos {
		stats := domain.RepositoryStats{
			Name:      r.name,
			TotalPRs:  r.total,
			OpenPRs:   r.open,
			MergedPRs: r.merged,
			ClosedPRs: r.closed,
		}
		if r.reviewCount > 0 {
			stats.AvgReviewHours = r.reviewSum / float64(r.reviewCount)
		}
		report.Repositories = append(report.Repositories, stats)
	}
	sort.Slice(report.Repositories, func(i, j int) bool {
		ri, rj := report.Repositories[i], report.Repositories[j]
		if ri.TotalPRs != rj.TotalPRs {
			return ri.TotalPRs > rj.TotalPRs
		}
		return ri.Name < rj.Name
	})

	report.WeeklyData = sortedWeeks(a.weeks, weeklyBuckets)

	for name, prs := range a.rawByRepo {
		recent := make([]domain.PullRequest, len(prs))
		copy(recent, prs)
		sort.Slice(recent, func(i, j int) bool {
			return recent[i].CreatedAt.After(recent[j].CreatedAt)
		})
		if len(recent) > recentPRsPerRepo {
			recent = recent[:recentPRsPerRepo]
		}
		report.RecentPRsByRepo[name] = recent
	}

	for _, p := range a.projects {
		report.ProjectWorkData = append(report.ProjectWorkData, *p)
	}
	sort.Slice(report.ProjectWorkData, func(i, j int) bool {
		pi, pj := report.ProjectWorkData[i], report.ProjectWorkData[j]
		ti, tj := pi.Merged+pi.Open+pi.Closed, pj.Merged+pj.Open+pj.Closed
		if ti != tj {
			return ti > tj
		}
		return pi.Project < pj.Project
	})

	for _, e := range a.epics {
		report.EpicWorkData = append(report.EpicWorkData, *e)
	}
	sort.Slice(report.EpicWorkData, func(i, j int) bool {
		ei, ej := report.EpicWorkData[i], report.EpicWorkData[j]
		ti, tj := ei.Merged+ei.Open+ei.Closed, ej.Merged+ej.Open+ej.Closed
		if ti != tj {
			return ti > tj
		}
		return ei.Key < ej.Key
	})

	return report
}

// sortedWeeks returns week buckets in chronological order, truncated to the
// most recent limit buckets when limit is positive.
func sortedWeeks(weeks map[string]*domain.WeekCounts, limit int) []domain.WeekCounts {
	out := make([]domain.WeekCounts, 0, len(weeks))
	for _, w := range weeks {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].WeekStart < out[j].WeekStart
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// weekStart maps a time to the Monday of its ISO week, formatted 2006-01-02.
func weekStart(t time.Time) string {
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	monday := time.Date(t.Year(), t.Month(), t.Day()-weekday+1, 0, 0, 0, 0, time.UTC)
	return monday.Format("2006-01-02")
}

func sizeBucket(lines int) string {
	switch {
	case lines <= 10:
		return "xs"
	case lines <= 50:
		return "s"
	case lines <= 200:
		return "m"
	case lines <= 500:
		return "l"
	default:
		return "xl"
	}
}

func reviewBucket(hours float64) string {
	switch {
	case hours < 1:
		return "<1h"
	case hours < 4:
		return "1-4h"
	case hours < 24:
		return "4-24h"
	case hours < 72:
		return "1-3d"
	default:
		return ">3d"
	}
}

// hoursToFirstReview returns the gap between PR creation and the earliest
// review submission. Pending reviews carry no submission timestamp and do
// not count as a first review.
func hoursToFirstReview(pr *domain.PullRequest) (float64, bool) {
	var first time.Time
	for _, rev := range pr.Reviews {
		if rev.SubmittedAt.IsZero() {
			continue
		}
		if first.IsZero() || rev.SubmittedAt.Before(first) {
			first = rev.SubmittedAt
		}
	}
	if first.IsZero() {
		return 0, false
	}
	return first.Sub(pr.CreatedAt).Hours(), true
}

func histogram(counts map[string]int, labels []string) []domain.LabelCount {
	out := make([]domain.LabelCount, 0, len(labels))
	for _, label := range labels {
		out = append(out, domain.LabelCount{Label: label, Count: counts[label]})
	}
	return out
}
