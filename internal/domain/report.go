package domain

import "time"

// LabelCount is one fixed-order bucket of a distribution.
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// WeekCounts are the per-week PR counters. Every PR lands in exactly one
// bucket, keyed by the Monday of its creation date.
type WeekCounts struct {
	WeekStart string `json:"weekStart"` // Monday, formatted 2006-01-02
	Created   int    `json:"created"`
	Merged    int    `json:"merged"`
	Closed    int    `json:"closed"`
}

// ContributorStats is the projected per-contributor aggregate.
type ContributorStats struct {
	Login             string       `json:"login"`
	AvatarURL         string       `json:"avatarUrl"`
	PRCount           int          `json:"prCount"`
	MergedPRs         int          `json:"mergedPrs"`
	OpenPRs           int          `json:"openPrs"`
	ClosedPRs         int          `json:"closedPrs"`
	TotalChangedLines int          `json:"totalChangedLines"`
	AvgPRSize         float64      `json:"avgPrSize"`
	AvgReviewHours    float64      `json:"avgReviewHours"`
	Weekly            []WeekCounts `json:"weekly,omitempty"`
}

// RepositoryStats is the projected per-repository aggregate.
type RepositoryStats struct {
	Name           string  `json:"name"`
	TotalPRs       int     `json:"totalPrs"`
	OpenPRs        int     `json:"openPrs"`
	MergedPRs      int     `json:"mergedPrs"`
	ClosedPRs      int     `json:"closedPrs"`
	AvgReviewHours float64 `json:"avgReviewHours"`
}

// ProjectWork is the rollup for one issue-tracker project prefix (e.g. DEV).
type ProjectWork struct {
	Project string `json:"project"`
	Merged  int    `json:"merged"`
	Open    int    `json:"open"`
	Closed  int    `json:"closed"`
}

// EpicWork is the rollup for one epic issue key found in PR titles.
type EpicWork struct {
	Key      string   `json:"key"`
	Merged   int      `json:"merged"`
	Open     int      `json:"open"`
	Closed   int      `json:"closed"`
	PRTitles []string `json:"prTitles"`
}

// MetricsReport is the structured metrics output consumed by the
// presentation layer and persisted by the cache layer.
type MetricsReport struct {
	ID                 string                   `json:"id"`
	Org                string                   `json:"org"`
	WindowDays         int                      `json:"windowDays"`
	GeneratedAt        time.Time                `json:"generatedAt"`
	Contributors       []ContributorStats       `json:"contributors"`
	Repositories       []RepositoryStats        `json:"repositories"`
	WeeklyData         []WeekCounts             `json:"weeklyData"`
	PRSizeDistribution []LabelCount             `json:"prSizeDistribution"`
	ReviewTimeData     []LabelCount             `json:"reviewTimeData"`
	RecentPRsByRepo    map[string][]PullRequest `json:"recentPRsByRepo"`
	ProjectWorkData    []ProjectWork            `json:"projectWorkData"`
	EpicWorkData       []EpicWork               `json:"epicWorkData"`
	SkippedRepos       []string                 `json:"skippedRepos,omitempty"`
}
