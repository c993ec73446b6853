// Package service orchestrates one run: repo discovery, bounded-concurrency
// ingestion, the aggregation fold, release comparison, tracker enrichment and
// the cache write-through.
package service

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yamada-k/git-insights/internal/aggregator"
	"github.com/yamada-k/git-insights/internal/cache"
	"github.com/yamada-k/git-insights/internal/classify"
	"github.com/yamada-k/git-insights/internal/collector"
	"github.com/yamada-k/git-insights/internal/config"
	"github.com/yamada-k/git-insights/internal/domain"
	apperrors "github.com/yamada-k/git-insights/internal/errors"
	"github.com/yamada-k/git-insights/internal/release"
	"github.com/yamada-k/git-insights/internal/tracker"
)

// repoBatchSize bounds the number of repositories fetched concurrently.
const repoBatchSize = 3

// ProgressEvent reports fetch progress during a metrics run. Events are
// delivered best effort: a slow consumer drops events rather than stalling
// the fetch.
type ProgressEvent struct {
	RunID     string `json:"runId"`
	Repo      string `json:"repo"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

// Tracker is the slice of the issue-tracker client the service needs.
type Tracker interface {
	Resolve(ctx context.Context, keys []string) ([]domain.IssueTicket, error)
	ResolveEpics(ctx context.Context) ([]domain.Epic, error)
	ProjectVersions(ctx context.Context, project string) ([]domain.TrackerVersion, error)
}

// Service runs metrics, release and epic reports on demand.
type Service struct {
	cfg       *config.Config
	collector collector.Collector
	store     cache.Store
	tracker   Tracker // nil when the tracker is not configured
	releases  *release.Engine
	rules     *classify.Rules
	logger    *logrus.Logger
}

// New wires a service from its collaborators. trk may be nil.
func New(cfg *config.Config, coll collector.Collector, store cache.Store, trk Tracker, logger *logrus.Logger) *Service {
	rules := classify.DefaultRules()
	return &Service{
		cfg:       cfg,
		collector: coll,
		store:     store,
		tracker:   trk,
		releases:  release.NewEngine(coll, rules, logger),
		rules:     rules,
		logger:    logger,
	}
}

// Metrics builds the metrics report for an organization. Cached reports are
// served as-is. A repository whose fetch fails is skipped and recorded; only
// a failed discovery call aborts the run. progress may be nil.
func (s *Service) Metrics(ctx context.Context, org string, days int, repos []string, progress chan<- ProgressEvent) (*domain.MetricsReport, error) {
	repos, err := s.resolveRepos(ctx, org, repos)
	if err != nil {
		return nil, err
	}

	key := cache.Fingerprint("metrics", org, repos, days)
	if payload, ok := s.store.Get(ctx, key); ok {
		var cached domain.MetricsReport
		if err := json.Unmarshal(payload, &cached); err == nil {
			s.logger.WithField("key", key).Debug("Serving cached metrics report")
			return &cached, nil
		}
		s.logger.WithField("key", key).Warn("Discarding corrupt cache entry")
	}

	runID := uuid.New().String()
	since := time.Now().UTC().AddDate(0, 0, -days)

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		prsByRepo = make(map[string][]domain.PullRequest, len(repos))
		skipped   []string
		completed int
	)
	sem := make(chan struct{}, repoBatchSize)

	for _, repo := range repos {
		wg.Add(1)
		sem <- struct{}{}
		go func(repo string) {
			defer wg.Done()
			defer func() { <-sem }()

			prs, err := s.collector.FetchPullRequestsSince(ctx, org, repo, since)

			mu.Lock()
			if err != nil {
				s.logger.WithError(err).WithField("repo", repo).Warn("Repository fetch failed, skipping")
				skipped = append(skipped, repo)
			} else {
				prsByRepo[repo] = prs
			}
			completed++
			event := ProgressEvent{RunID: runID, Repo: repo, Completed: completed, Total: len(repos)}
			mu.Unlock()

			if progress != nil {
				select {
				case progress <- event:
				default:
				}
			}
		}(repo)
	}
	wg.Wait()

	// The fold itself is sequential; repo order is fixed so reruns over the
	// same data produce the same report.
	agg := aggregator.New(s.rules)
	folded := make([]string, 0, len(prsByRepo))
	for repo := range prsByRepo {
		folded = append(folded, repo)
	}
	sort.Strings(folded)
	for _, repo := range folded {
		agg.Aggregate(repo, prsByRepo[repo])
	}

	report := agg.Report()
	report.ID = runID
	report.Org = org
	report.WindowDays = days
	report.GeneratedAt = time.Now().UTC()
	sort.Strings(skipped)
	report.SkippedRepos = skipped

	s.cacheSet(ctx, key, report)
	return report, nil
}

// Releases builds the release-delta report. A single repository gets its
// adjacent comparisons; multiple repositories go through the cross-repo
// pairing policy so a repo missing one side of a version pair is reported.
func (s *Service) Releases(ctx context.Context, org string, repos []string) ([]domain.ReleaseReport, error) {
	repos, err := s.resolveRepos(ctx, org, repos)
	if err != nil {
		return nil, err
	}

	key := cache.Fingerprint("releases", org, repos, 0)
	if payload, ok := s.store.Get(ctx, key); ok {
		var cached []domain.ReleaseReport
		if err := json.Unmarshal(payload, &cached); err == nil {
			return cached, nil
		}
		s.logger.WithField("key", key).Warn("Discarding corrupt cache entry")
	}

	var reports []domain.ReleaseReport
	if len(repos) == 1 {
		reports, err = s.releases.AdjacentReports(ctx, org, repos[0])
		if err != nil {
			return nil, err
		}
	} else {
		reports = s.releases.CrossRepoReports(ctx, org, repos)
	}

	s.enrichFromTracker(ctx, reports)
	s.cacheSet(ctx, key, reports)
	return reports, nil
}

// Epics builds the epic progress report from the issue tracker.
func (s *Service) Epics(ctx context.Context) ([]domain.Epic, error) {
	if s.tracker == nil {
		return nil, apperrors.NewConfigError("JIRA_URL", "issue tracker is not configured")
	}

	key := cache.Fingerprint("epics", s.cfg.Org, nil, 0)
	if payload, ok := s.store.Get(ctx, key); ok {
		var cached []domain.Epic
		if err := json.Unmarshal(payload, &cached); err == nil {
			return cached, nil
		}
		s.logger.WithField("key", key).Warn("Discarding corrupt cache entry")
	}

	epics, err := s.tracker.ResolveEpics(ctx)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, key, epics)
	return epics, nil
}

// ClearCache drops every cached report.
func (s *Service) ClearCache(ctx context.Context) {
	s.store.Clear(ctx)
}

func (s *Service) resolveRepos(ctx context.Context, org string, repos []string) ([]string, error) {
	if len(repos) > 0 {
		return repos, nil
	}
	discovered, err := s.collector.ListRepositories(ctx, org)
	if err != nil {
		// Discovery is the one mandatory call: without a repo list there is
		// nothing to degrade to.
		return nil, err
	}
	return discovered, nil
}

// enrichFromTracker attaches issue metadata to each successful comparison:
// the tickets referenced by the release's commits and the tracker version
// matching its head release. The tracker project is taken from the issue
// keys found in the commits; versions are fetched once per project per run.
// Failures leave the report without enrichment.
func (s *Service) enrichFromTracker(ctx context.Context, reports []domain.ReleaseReport) {
	if s.tracker == nil {
		return
	}

	versionsByProject := make(map[string][]domain.TrackerVersion)
	for i := range reports {
		if reports[i].Status != domain.ComparisonOK {
			continue
		}

		var keys []string
		for _, c := range reports[i].Commits {
			keys = append(keys, s.rules.ExtractIssueKeys(c.Subject)...)
		}
		if len(keys) > 0 {
			tickets, err := s.tracker.Resolve(ctx, keys)
			if err != nil {
				s.logger.WithError(err).WithField("app", reports[i].App).Warn("Ticket resolution failed")
			} else {
				reports[i].Tickets = tickets
			}
		}

		project := s.reportProject(&reports[i])
		if project == "" {
			continue
		}
		versions, ok := versionsByProject[project]
		if !ok {
			var err error
			versions, err = s.tracker.ProjectVersions(ctx, project)
			if err != nil {
				s.logger.WithError(err).WithField("project", project).Warn("Tracker version lookup failed")
				versions = nil
			}
			versionsByProject[project] = versions
		}
		reports[i].TrackerVersion = tracker.MatchVersion(versions, reports[i].HeadRelease)
	}
}

// reportProject returns the dominant issue-key project prefix among the
// release's commit subjects.
func (s *Service) reportProject(report *domain.ReleaseReport) string {
	counts := make(map[string]int)
	for _, c := range report.Commits {
		if _, project, ok := s.rules.ExtractIssueKey(c.Subject); ok {
			counts[project]++
		}
	}
	best := ""
	for project, n := range counts {
		if best == "" || n > counts[best] || (n == counts[best] && project < best) {
			best = project
		}
	}
	return best
}

func (s *Service) cacheSet(ctx context.Context, key string, value interface{}) {
	payload, err := json.Marshal(value)
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Failed to encode report for cache")
		return
	}
	s.store.Set(ctx, key, payload)
}
