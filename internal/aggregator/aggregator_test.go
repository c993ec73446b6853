package aggregator

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yamada-k/git-insights/internal/classify"
	"github.com/yamada-k/git-insights/internal/domain"
)

var testBase = time.Date(2026, 8, 3, 12, 0, 0, 0, time.UTC) // a Monday

func openPR(number int, title, login string) domain.PullRequest {
	return domain.PullRequest{
		Repo:      "api",
		Number:    number,
		Title:     title,
		State:     domain.PRStateOpen,
		CreatedAt: testBase,
		Author:    domain.Author{Login: login},
	}
}

func mergedPR(number int, title, login string, lines int) domain.PullRequest {
	merged := testBase.Add(4 * time.Hour)
	return domain.PullRequest{
		Repo:      "api",
		Number:    number,
		Title:     title,
		State:     domain.PRStateMerged,
		CreatedAt: testBase,
		MergedAt:  &merged,
		Additions: lines,
		Author:    domain.Author{Login: login},
	}
}

func closedPR(number int, title, login string) domain.PullRequest {
	closed := testBase.Add(time.Hour)
	return domain.PullRequest{
		Repo:      "api",
		Number:    number,
		Title:     title,
		State:     domain.PRStateClosed,
		CreatedAt: testBase,
		ClosedAt:  &closed,
		Author:    domain.Author{Login: login},
	}
}

func TestMergeTimestampWinsOverState(t *testing.T) {
	agg := New(classify.DefaultRules())

	merged := testBase.Add(2 * time.Hour)
	pr := domain.PullRequest{
		Repo:      "api",
		Number:    1,
		Title:     "small fix",
		State:     domain.PRStateClosed, // host reports closed
		CreatedAt: testBase,
		MergedAt:  &merged,
		Author:    domain.Author{Login: "alice"},
	}
	agg.Aggregate("api", []domain.PullRequest{pr})

	report := agg.Report()
	require.Len(t, report.Repositories, 1)
	assert.Equal(t, 1, report.Repositories[0].MergedPRs)
	assert.Equal(t, 0, report.Repositories[0].ClosedPRs)
	require.Len(t, report.Contributors, 1)
	assert.Equal(t, 1, report.Contributors[0].MergedPRs)
}

func TestRepositoryAggregateEndToEnd(t *testing.T) {
	agg := New(classify.DefaultRules())

	reviewed := mergedPR(2, "feat: onboarding", "bob", 20)
	reviewed.Reviews = []domain.Review{
		{State: "APPROVED", SubmittedAt: testBase.Add(2 * time.Hour), Author: domain.Author{Login: "carol"}},
	}

	agg.Aggregate("api", []domain.PullRequest{
		openPR(1, "wip: thing", "alice"),
		reviewed,
		closedPR(3, "abandoned", "alice"),
	})

	report := agg.Report()
	require.Len(t, report.Repositories, 1)
	repo := report.Repositories[0]
	assert.Equal(t, 3, repo.TotalPRs)
	assert.Equal(t, 1, repo.OpenPRs)
	assert.Equal(t, 1, repo.MergedPRs)
	assert.Equal(t, 1, repo.ClosedPRs)

	// exactly the 1-4h bucket increments, exactly once
	for _, bucket := range report.ReviewTimeData {
		want := 0
		if bucket.Label == "1-4h" {
			want = 1
		}
		assert.Equal(t, want, bucket.Count, "bucket %s", bucket.Label)
	}
}

func TestEarliestReviewTaken(t *testing.T) {
	agg := New(classify.DefaultRules())

	pr := mergedPR(1, "feat: x", "bob", 10)
	// reviews arrive unsorted; the 30-minute one must win
	pr.Reviews = []domain.Review{
		{State: "COMMENTED", SubmittedAt: testBase.Add(26 * time.Hour)},
		{State: "APPROVED", SubmittedAt: testBase.Add(30 * time.Minute)},
	}
	agg.Aggregate("api", []domain.PullRequest{pr})

	report := agg.Report()
	for _, bucket := range report.ReviewTimeData {
		want := 0
		if bucket.Label == "<1h" {
			want = 1
		}
		assert.Equal(t, want, bucket.Count, "bucket %s", bucket.Label)
	}
}

func TestPendingReviewHasNoReviewTime(t *testing.T) {
	agg := New(classify.DefaultRules())

	// A pending review has no submission timestamp; its zero time must not
	// be mistaken for the earliest submission.
	pr := openPR(1, "feat: x", "alice")
	pr.Reviews = []domain.Review{{State: "PENDING"}}
	agg.Aggregate("api", []domain.PullRequest{pr})

	report := agg.Report()
	for _, bucket := range report.ReviewTimeData {
		assert.Equal(t, 0, bucket.Count, "bucket %s", bucket.Label)
	}
	require.Len(t, report.Contributors, 1)
	assert.Equal(t, 0.0, report.Contributors[0].AvgReviewHours)
	assert.Equal(t, 0.0, report.Repositories[0].AvgReviewHours)
}

func TestPendingReviewSkippedWhenSubmittedReviewExists(t *testing.T) {
	agg := New(classify.DefaultRules())

	pr := mergedPR(1, "feat: x", "bob", 10)
	pr.Reviews = []domain.Review{
		{State: "PENDING"},
		{State: "APPROVED", SubmittedAt: testBase.Add(2 * time.Hour)},
	}
	agg.Aggregate("api", []domain.PullRequest{pr})

	report := agg.Report()
	for _, bucket := range report.ReviewTimeData {
		want := 0
		if bucket.Label == "1-4h" {
			want = 1
		}
		assert.Equal(t, want, bucket.Count, "bucket %s", bucket.Label)
	}
	assert.Equal(t, 2.0, report.Contributors[0].AvgReviewHours)
}

func TestFeatureBranchMergeExcludedFromAverage(t *testing.T) {
	agg := New(classify.DefaultRules())

	agg.Aggregate("api", []domain.PullRequest{
		mergedPR(1, "fix: small thing", "alice", 100),
		mergedPR(2, "feat/DEV-123 giant branch merge", "alice", 1000),
	})

	report := agg.Report()
	require.Len(t, report.Contributors, 1)
	c := report.Contributors[0]
	assert.Equal(t, 2, c.PRCount, "feature merges still count toward prCount")
	assert.Equal(t, 1100, c.TotalChangedLines)
	assert.Equal(t, 100.0, c.AvgPRSize, "feature merges are excluded from the average denominator")

	counts := map[string]int{}
	for _, b := range report.PRSizeDistribution {
		counts[b.Label] = b.Count
	}
	assert.Equal(t, 1, counts["m"], "100 changed lines")
	assert.Equal(t, 1, counts["xl"], "feature merges still land in the histogram")
}

func TestBotsExcludedButKeptInRawFeed(t *testing.T) {
	agg := New(classify.DefaultRules())

	agg.Aggregate("api", []domain.PullRequest{
		mergedPR(1, "fix: human work", "alice", 10),
		mergedPR(2, "chore: bump deps", "dependabot[bot]", 500),
	})

	report := agg.Report()
	require.Len(t, report.Contributors, 1)
	assert.Equal(t, "alice", report.Contributors[0].Login)
	assert.Equal(t, 1, report.Repositories[0].TotalPRs)
	assert.Len(t, report.RecentPRsByRepo["api"], 2, "raw feed retains bot PRs")
}

func TestWeekBucketing(t *testing.T) {
	agg := New(classify.DefaultRules())

	// Wednesday and Friday of the same ISO week share one bucket.
	wednesday := mergedPR(1, "a", "alice", 1)
	wednesday.CreatedAt = testBase.AddDate(0, 0, 2)
	friday := openPR(2, "b", "alice")
	friday.CreatedAt = testBase.AddDate(0, 0, 4)

	agg.Aggregate("api", []domain.PullRequest{wednesday, friday})

	report := agg.Report()
	require.Len(t, report.WeeklyData, 1, "every PR contributes to exactly one bucket")
	week := report.WeeklyData[0]
	assert.Equal(t, "2026-08-03", week.WeekStart)
	assert.Equal(t, 2, week.Created)
	assert.Equal(t, 1, week.Merged)
	assert.Equal(t, 0, week.Closed)
}

func TestWeeklyDataTruncatedToMostRecent(t *testing.T) {
	agg := New(classify.DefaultRules())

	var prs []domain.PullRequest
	for i := 0; i < 12; i++ {
		pr := openPR(i, fmt.Sprintf("pr %d", i), "alice")
		pr.CreatedAt = testBase.AddDate(0, 0, -7*i)
		prs = append(prs, pr)
	}
	agg.Aggregate("api", prs)

	report := agg.Report()
	require.Len(t, report.WeeklyData, weeklyBuckets)
	assert.Equal(t, "2026-08-03", report.WeeklyData[len(report.WeeklyData)-1].WeekStart,
		"the newest week survives truncation")
}

func TestProjectAndEpicRollup(t *testing.T) {
	agg := New(classify.DefaultRules())

	agg.Aggregate("api", []domain.PullRequest{
		mergedPR(1, "fix: resolve null pointer (DEV-1234)", "alice", 5),
		openPR(2, "DEV-1300 follow-up", "bob"),
		mergedPR(3, "[Epic] DEV-100 checkout rework", "alice", 40),
	})

	report := agg.Report()
	require.Len(t, report.ProjectWorkData, 1)
	project := report.ProjectWorkData[0]
	assert.Equal(t, "DEV", project.Project)
	assert.Equal(t, 2, project.Merged)
	assert.Equal(t, 1, project.Open)

	require.Len(t, report.EpicWorkData, 1)
	epic := report.EpicWorkData[0]
	assert.Equal(t, "DEV-100", epic.Key)
	assert.Equal(t, 1, epic.Merged)
	assert.Equal(t, []string{"[Epic] DEV-100 checkout rework"}, epic.PRTitles)
}

func TestContributorsSortedByPRCount(t *testing.T) {
	agg := New(classify.DefaultRules())

	agg.Aggregate("api", []domain.PullRequest{
		mergedPR(1, "a", "alice", 1),
		mergedPR(2, "b", "bob", 1),
		mergedPR(3, "c", "bob", 1),
	})

	report := agg.Report()
	require.Len(t, report.Contributors, 2)
	assert.Equal(t, "bob", report.Contributors[0].Login)
	assert.Equal(t, "alice", report.Contributors[1].Login)
}

func TestRecentActivityIsFiveNewest(t *testing.T) {
	agg := New(classify.DefaultRules())

	var prs []domain.PullRequest
	for i := 0; i < 7; i++ {
		pr := openPR(i, fmt.Sprintf("pr %d", i), "alice")
		pr.CreatedAt = testBase.Add(time.Duration(i) * time.Hour)
		prs = append(prs, pr)
	}
	agg.Aggregate("api", prs)

	recent := agg.Report().RecentPRsByRepo["api"]
	require.Len(t, recent, recentPRsPerRepo)
	assert.Equal(t, 6, recent[0].Number, "newest first")
	assert.Equal(t, 2, recent[len(recent)-1].Number)
}
