package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v55/github"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/yamada-k/git-insights/internal/domain"
	apperrors "github.com/yamada-k/git-insights/internal/errors"
)

const (
	pageSize = 100

	// Hard ceilings. Offset walks stop after maxListPages pages; the
	// cursor walk is protected by maxCursorPages even without a date
	// bound.
	maxListPages   = 10
	maxCursorPages = 50

	defaultGraphQLURL = "https://api.github.com/graphql"
)

// githubCollector implements Collector against the GitHub REST and GraphQL
// APIs, sharing one authenticated HTTP client and rate-limit budget.
type githubCollector struct {
	rest        *github.Client
	httpClient  *http.Client
	graphqlURL  string
	rateLimiter RateLimiter
	logger      *logrus.Logger
}

// Option configures the collector.
type Option func(*githubCollector)

// WithBaseURLs overrides the API endpoints. Used by tests.
func WithBaseURLs(restURL, graphqlURL string) Option {
	return func(c *githubCollector) {
		if restURL != "" {
			if !strings.HasSuffix(restURL, "/") {
				restURL += "/"
			}
			if u, err := url.Parse(restURL); err == nil {
				c.rest.BaseURL = u
			}
		}
		if graphqlURL != "" {
			c.graphqlURL = graphqlURL
		}
	}
}

// NewGitHubCollector creates a new GitHub collector.
func NewGitHubCollector(token string, logger *logrus.Logger, opts ...Option) Collector {
	ctx := context.Background()
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)

	c := &githubCollector{
		rest:        github.NewClient(tc),
		httpClient:  tc,
		graphqlURL:  defaultGraphQLURL,
		rateLimiter: NewRateLimiter(logger),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListRepositories retrieves the repository names of an organization.
func (c *githubCollector) ListRepositories(ctx context.Context, org string) ([]string, error) {
	var names []string
	opts := &github.RepositoryListByOrgOptions{
		Sort:        "pushed",
		ListOptions: github.ListOptions{PerPage: pageSize},
	}

	for page := 0; page < maxListPages; page++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}
		repos, resp, err := c.rest.Repositories.ListByOrg(ctx, org, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list repositories for %s: %w", org, err)
		}
		c.updateRateLimitFromResponse(resp)

		for _, repo := range repos {
			names = append(names, repo.GetName())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return names, nil
}

const pullRequestsQuery = `
query PullRequests($owner: String!, $name: String!, $cursor: String) {
  repository(owner: $owner, name: $name) {
    pullRequests(states: [OPEN, CLOSED, MERGED], first: 100, after: $cursor, orderBy: {field: CREATED_AT, direction: DESC}) {
      pageInfo { hasNextPage endCursor }
      nodes {
        number title state createdAt closedAt mergedAt additions deletions
        author { login avatarUrl }
        reviews(first: 30) {
          nodes { state submittedAt author { login avatarUrl } }
        }
      }
    }
  }
  rateLimit { remaining resetAt }
}`

// FetchPullRequestsSince walks the cursor-paginated PR listing newest first.
// The moment the oldest record of a page falls before since, no later page
// can contain anything newer, so the page is filtered and the walk stops
// without waiting for hasNextPage to go false.
func (c *githubCollector) FetchPullRequestsSince(ctx context.Context, org, repo string, since time.Time) ([]domain.PullRequest, error) {
	var all []domain.PullRequest
	var cursor *string

	for page := 0; page < maxCursorPages; page++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}

		var data gqlPullRequestsResponse
		vars := map[string]interface{}{
			"owner":  org,
			"name":   repo,
			"cursor": cursor,
		}
		if err := c.graphql(ctx, pullRequestsQuery, vars, &data); err != nil {
			return nil, fmt.Errorf("failed to fetch pull requests for %s/%s: %w", org, repo, err)
		}
		if data.Repository == nil {
			return nil, apperrors.NewNotFoundError("repository " + org + "/" + repo)
		}
		c.updateRateLimitFromGraphQL(data.RateLimit)

		prs := data.Repository.PullRequests
		batch := make([]domain.PullRequest, 0, len(prs.Nodes))
		for _, node := range prs.Nodes {
			batch = append(batch, node.toDomain(repo))
		}

		if !since.IsZero() && len(batch) > 0 {
			oldest := batch[len(batch)-1]
			if oldest.CreatedAt.Before(since) {
				for _, pr := range batch {
					if !pr.CreatedAt.Before(since) {
						all = append(all, pr)
					}
				}
				return all, nil
			}
		}

		all = append(all, batch...)

		if !prs.PageInfo.HasNextPage {
			break
		}
		cur := prs.PageInfo.EndCursor
		cursor = &cur
	}

	return all, nil
}

const branchesQuery = `
query Branches($owner: String!, $name: String!) {
  repository(owner: $owner, name: $name) {
    refs(refPrefix: "refs/heads/", first: 100, orderBy: {field: TAG_COMMIT_DATE, direction: DESC}) {
      nodes {
        name
        target { ... on Commit { committedDate } }
      }
    }
  }
  rateLimit { remaining resetAt }
}`

// ListBranches retrieves branches with their last-commit dates.
func (c *githubCollector) ListBranches(ctx context.Context, org, repo string) ([]domain.Branch, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	var data gqlBranchesResponse
	vars := map[string]interface{}{"owner": org, "name": repo}
	if err := c.graphql(ctx, branchesQuery, vars, &data); err != nil {
		return nil, fmt.Errorf("failed to list branches for %s/%s: %w", org, repo, err)
	}
	if data.Repository == nil {
		return nil, apperrors.NewNotFoundError("repository " + org + "/" + repo)
	}
	c.updateRateLimitFromGraphQL(data.RateLimit)

	branches := make([]domain.Branch, 0, len(data.Repository.Refs.Nodes))
	for _, node := range data.Repository.Refs.Nodes {
		b := domain.Branch{Name: node.Name}
		if node.Target.CommittedDate != nil {
			b.CommittedDate = *node.Target.CommittedDate
		}
		branches = append(branches, b)
	}
	return branches, nil
}

// CompareReleases retrieves the commit set reachable from head but not base.
// A 404 for either ref degrades to an empty diff.
func (c *githubCollector) CompareReleases(ctx context.Context, org, repo, base, head string) (*domain.ReleaseDiff, error) {
	diff := &domain.ReleaseDiff{}
	opts := &github.ListOptions{PerPage: pageSize}

	for page := 0; page < maxListPages; page++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}
		cmp, resp, err := c.rest.Repositories.CompareCommits(ctx, org, repo, base, head, opts)
		if err != nil {
			var errResp *github.ErrorResponse
			if errors.As(err, &errResp) && errResp.Response != nil && errResp.Response.StatusCode == http.StatusNotFound {
				return &domain.ReleaseDiff{}, nil
			}
			return nil, fmt.Errorf("failed to compare %s...%s in %s/%s: %w", base, head, org, repo, err)
		}
		c.updateRateLimitFromResponse(resp)

		if page == 0 {
			diff.AheadBy = cmp.GetAheadBy()
			diff.BehindBy = cmp.GetBehindBy()
			diff.TotalCommits = cmp.GetTotalCommits()
		}
		for _, rc := range cmp.Commits {
			diff.Commits = append(diff.Commits, toCommit(rc))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return diff, nil
}

func toCommit(rc *github.RepositoryCommit) domain.Commit {
	commit := domain.Commit{SHA: rc.GetSHA()}
	if rc.Commit != nil {
		commit.Message = rc.Commit.GetMessage()
		if rc.Commit.Author != nil {
			commit.Date = rc.Commit.Author.GetDate().Time
		}
	}
	if rc.Author != nil {
		commit.Author = rc.Author.GetLogin()
	} else if rc.Commit != nil && rc.Commit.Author != nil {
		commit.Author = rc.Commit.Author.GetName()
	}
	return commit
}

// graphql POSTs a query to the batch endpoint and decodes the data field
// into v.
func (c *githubCollector) graphql(ctx context.Context, query string, variables map[string]interface{}, v interface{}) error {
	payload, err := json.Marshal(struct {
		Query     string                 `json:"query"`
		Variables map[string]interface{} `json:"variables,omitempty"`
	}{Query: query, Variables: variables})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.NewTransportError("graphql request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		return apperrors.NewRateLimitedError("graphql rate limit exceeded")
	case resp.StatusCode >= 400:
		return apperrors.NewTransportError(fmt.Sprintf("graphql HTTP %s", resp.Status), nil)
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return err
	}
	if len(envelope.Errors) > 0 {
		return apperrors.NewTransportError("graphql: "+envelope.Errors[0].Message, nil)
	}
	if v == nil {
		return nil
	}
	return json.Unmarshal(envelope.Data, v)
}

func (c *githubCollector) updateRateLimitFromResponse(resp *github.Response) {
	if resp != nil && resp.Rate.Remaining >= 0 {
		c.rateLimiter.UpdateLimit(resp.Rate.Remaining, resp.Rate.Reset.Time)
	}
}

func (c *githubCollector) updateRateLimitFromGraphQL(rl *gqlRateLimit) {
	if rl != nil {
		c.rateLimiter.UpdateLimit(rl.Remaining, rl.ResetAt)
	}
}

// GraphQL response types.

type gqlRateLimit struct {
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

type gqlActor struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatarUrl"`
}

type gqlReviewNode struct {
	State       string     `json:"state"`
	SubmittedAt *time.Time `json:"submittedAt"`
	Author      *gqlActor  `json:"author"`
}

type gqlPRNode struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	State     string     `json:"state"`
	CreatedAt time.Time  `json:"createdAt"`
	ClosedAt  *time.Time `json:"closedAt"`
	MergedAt  *time.Time `json:"mergedAt"`
	Additions int        `json:"additions"`
	Deletions int        `json:"deletions"`
	Author    *gqlActor  `json:"author"`
	Reviews   struct {
		Nodes []gqlReviewNode `json:"nodes"`
	} `json:"reviews"`
}

func (n *gqlPRNode) toDomain(repo string) domain.PullRequest {
	pr := domain.PullRequest{
		Repo:      repo,
		Number:    n.Number,
		Title:     n.Title,
		State:     strings.ToLower(n.State),
		CreatedAt: n.CreatedAt,
		ClosedAt:  n.ClosedAt,
		MergedAt:  n.MergedAt,
		Additions: n.Additions,
		Deletions: n.Deletions,
	}
	if n.Author != nil {
		pr.Author = domain.Author{Login: n.Author.Login, AvatarURL: n.Author.AvatarURL}
	}
	for _, rev := range n.Reviews.Nodes {
		review := domain.Review{State: rev.State}
		if rev.SubmittedAt != nil {
			review.SubmittedAt = *rev.SubmittedAt
		}
		if rev.Author != nil {
			review.Author = domain.Author{Login: rev.Author.Login, AvatarURL: rev.Author.AvatarURL}
		}
		pr.Reviews = append(pr.Reviews, review)
	}
	return pr
}

type gqlPullRequestsResponse struct {
	Repository *struct {
		PullRequests struct {
			PageInfo struct {
				HasNextPage bool   `json:"hasNextPage"`
				EndCursor   string `json:"endCursor"`
			} `json:"pageInfo"`
			Nodes []gqlPRNode `json:"nodes"`
		} `json:"pullRequests"`
	} `json:"repository"`
	RateLimit *gqlRateLimit `json:"rateLimit"`
}

type gqlBranchesResponse struct {
	Repository *struct {
		Refs struct {
			Nodes []struct {
				Name   string `json:"name"`
				Target struct {
					CommittedDate *time.Time `json:"committedDate"`
				} `json:"target"`
			} `json:"nodes"`
		} `json:"refs"`
	} `json:"repository"`
	RateLimit *gqlRateLimit `json:"rateLimit"`
}
