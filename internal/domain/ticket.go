package domain

import "time"

// IssueTicket is an issue-tracker record attached to releases and epics.
type IssueTicket struct {
	Key         string  `json:"key"`
	Summary     string  `json:"summary"`
	IssueType   string  `json:"issueType"`
	Status      string  `json:"status"`
	Assignee    string  `json:"assignee"`
	Priority    string  `json:"priority"`
	StoryPoints float64 `json:"storyPoints"`
	FeatureFlag bool    `json:"featureFlag"`
}

// Done reports whether the ticket is in a terminal status.
func (t *IssueTicket) Done() bool {
	return t.Status == "Done" || t.Status == "Closed" || t.Status == "Resolved"
}

// Epic is a tracker record with linked sub-tickets and progress rollups.
type Epic struct {
	IssueTicket
	SubTickets           []IssueTicket `json:"subTickets"`
	CompletedCount       int           `json:"completedCount"`
	TotalStoryPoints     float64       `json:"totalStoryPoints"`
	CompletedStoryPoints float64       `json:"completedStoryPoints"`
	CompletionPct        float64       `json:"completionPct"`
	Contributors         []string      `json:"contributors"`
}

// Remaining is the number of incomplete sub-tickets.
func (e *Epic) Remaining() int {
	return len(e.SubTickets) - e.CompletedCount
}

// TrackerVersion is a project version from the issue tracker, joined into
// release reports by version-prefix matching.
type TrackerVersion struct {
	Name        string     `json:"name"`
	Released    bool       `json:"released"`
	ReleaseDate *time.Time `json:"releaseDate,omitempty"`
}
