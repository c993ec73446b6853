package domain

import (
	"fmt"
	"time"
)

// Version is the semver-like token parsed from a release branch name.
type Version struct {
	Major int    `json:"major"`
	Minor int    `json:"minor"`
	Raw   string `json:"raw"`
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Less orders versions by major, then minor.
func (v Version) Less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	return v.Minor < o.Minor
}

// ReleaseBranch is a branch matching the release naming convention.
type ReleaseBranch struct {
	Name          string    `json:"name"`
	Version       Version   `json:"version"`
	CommittedDate time.Time `json:"committedDate"`
}

// ReleaseDiff is the raw result of a compare-range request: the commits
// reachable from head but not base.
type ReleaseDiff struct {
	Commits      []Commit `json:"commits"`
	AheadBy      int      `json:"aheadBy"`
	BehindBy     int      `json:"behindBy"`
	TotalCommits int      `json:"totalCommits"`
}

// CommitInfo is a classified commit in a release report. Subject is the
// first line of the message; the full message is kept for classification
// but not serialized.
type CommitInfo struct {
	SHA      string    `json:"sha"`
	Subject  string    `json:"subject"`
	Type     string    `json:"type"`
	Date     time.Time `json:"date"`
	Author   string    `json:"author"`
	PRNumber int       `json:"prNumber,omitempty"`
	PRURL    string    `json:"prUrl,omitempty"`
}

// Release comparison statuses.
const (
	ComparisonOK             = "ok"
	ComparisonMissingRelease = "missing-release"
	ComparisonError          = "error"
)

// ReleaseReport is one entry of the release-delta report: the comparison of
// a head release against its base for one repository.
type ReleaseReport struct {
	App              string          `json:"app"`
	Path             string          `json:"path"` // base...head compare ref
	Status           string          `json:"status"`
	HeadRelease      string          `json:"headRelease"`
	BaseRelease      string          `json:"baseRelease"`
	HasChanges       *bool           `json:"hasChanges"` // nil when the comparison failed
	ChangeCount      int             `json:"changeCount"`
	AheadBy          int             `json:"aheadBy"`
	BehindBy         int             `json:"behindBy"`
	Commits          []CommitInfo    `json:"commits"`
	TypeDistribution []LabelCount    `json:"typeDistribution"`
	DBMigrations     []CommitInfo    `json:"dbMigrations"`
	Tickets          []IssueTicket   `json:"tickets,omitempty"`
	TrackerVersion   *TrackerVersion `json:"trackerVersion,omitempty"`
}
