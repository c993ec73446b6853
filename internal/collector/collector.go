package collector

import (
	"context"
	"time"

	"github.com/yamada-k/git-insights/internal/domain"
)

// Collector defines the interface for ingesting data from the
// source-control host.
type Collector interface {
	// ListRepositories retrieves the repository names of an organization.
	ListRepositories(ctx context.Context, org string) ([]string, error)

	// FetchPullRequestsSince retrieves pull requests with their reviews,
	// newest first, stopping as soon as a page proves that no further page
	// can contain a record created at or after since. A zero since fetches
	// up to the page ceiling.
	FetchPullRequestsSince(ctx context.Context, org, repo string, since time.Time) ([]domain.PullRequest, error)

	// ListBranches retrieves branches with their last-commit dates.
	ListBranches(ctx context.Context, org, repo string) ([]domain.Branch, error)

	// CompareReleases retrieves the commits reachable from head but not
	// base. An unknown ref degrades to an empty diff rather than an error.
	CompareReleases(ctx context.Context, org, repo, base, head string) (*domain.ReleaseDiff, error)
}
