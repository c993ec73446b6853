package domain

import "time"

// PR lifecycle states as reported by the source-control host.
const (
	PRStateOpen   = "open"
	PRStateClosed = "closed"
	PRStateMerged = "merged"
)

// Author identifies the user that opened a pull request or submitted a review.
type Author struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatarUrl"`
}

// Review is a single review submitted on a pull request.
type Review struct {
	State       string    `json:"state"`
	SubmittedAt time.Time `json:"submittedAt"`
	Author      Author    `json:"author"`
}

// PullRequest is an immutable record fetched from the source-control host.
type PullRequest struct {
	Repo      string     `json:"repo"`
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	State     string     `json:"state"`
	CreatedAt time.Time  `json:"createdAt"`
	ClosedAt  *time.Time `json:"closedAt,omitempty"`
	MergedAt  *time.Time `json:"mergedAt,omitempty"`
	Additions int        `json:"additions"`
	Deletions int        `json:"deletions"`
	Author    Author     `json:"author"`
	Reviews   []Review   `json:"reviews,omitempty"`
}

// Merged reports whether the PR should be treated as merged. A merge
// timestamp wins over the reported state string: the host sometimes reports
// "closed" for PRs that were in fact merged, and downstream aggregates
// depend on the timestamp taking priority.
func (p *PullRequest) Merged() bool {
	return p.MergedAt != nil
}

// ChangedLines is the total size of the PR in changed lines.
func (p *PullRequest) ChangedLines() int {
	return p.Additions + p.Deletions
}

// Commit is a single commit reachable in a release comparison.
type Commit struct {
	SHA     string    `json:"sha"`
	Message string    `json:"message"`
	Date    time.Time `json:"date"`
	Author  string    `json:"author"`
}

// Branch is a ref on the source-control host together with the date of the
// commit it points at.
type Branch struct {
	Name          string    `json:"name"`
	CommittedDate time.Time `json:"committedDate"`
}
