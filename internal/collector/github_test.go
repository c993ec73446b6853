package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// disableMinDelay removes the inter-request pacing so page-ceiling walks
// finish quickly.
func disableMinDelay(c Collector) {
	c.(*githubCollector).rateLimiter.(*apiRateLimiter).minDelay = 0
}

func prNode(number int, createdAt time.Time) map[string]interface{} {
	return map[string]interface{}{
		"number":    number,
		"title":     fmt.Sprintf("DEV-%d change", number),
		"state":     "MERGED",
		"createdAt": createdAt.Format(time.RFC3339),
		"mergedAt":  createdAt.Add(time.Hour).Format(time.RFC3339),
		"additions": 10,
		"deletions": 2,
		"author":    map[string]interface{}{"login": "alice", "avatarUrl": ""},
		"reviews":   map[string]interface{}{"nodes": []interface{}{}},
	}
}

func prPage(nodes []map[string]interface{}, hasNext bool, cursor string) map[string]interface{} {
	return map[string]interface{}{
		"data": map[string]interface{}{
			"repository": map[string]interface{}{
				"pullRequests": map[string]interface{}{
					"pageInfo": map[string]interface{}{
						"hasNextPage": hasNext,
						"endCursor":   cursor,
					},
					"nodes": nodes,
				},
			},
			"rateLimit": map[string]interface{}{"remaining": 4999, "resetAt": time.Now().Add(time.Hour).Format(time.RFC3339)},
		},
	}
}

func TestFetchPullRequestsSinceEarlyStop(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	since := now.Add(-24 * time.Hour)

	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		// Newest-first page whose oldest record misses the window: the
		// client must stop here even though hasNextPage is true.
		page := prPage([]map[string]interface{}{
			prNode(3, now.Add(-time.Hour)),
			prNode(2, now.Add(-2*time.Hour)),
			prNode(1, now.Add(-72*time.Hour)),
		}, true, "cursor-1")
		json.NewEncoder(w).Encode(page)
	}))
	defer server.Close()

	coll := NewGitHubCollector("token", testLogger(), WithBaseURLs("", server.URL))
	prs, err := coll.FetchPullRequestsSince(context.Background(), "acme", "api", since)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&requests), "a later page must never be requested")
	require.Len(t, prs, 2)
	assert.Equal(t, 3, prs[0].Number)
	assert.Equal(t, 2, prs[1].Number)
}

func TestFetchPullRequestsSinceInclusiveBound(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	since := now.Add(-24 * time.Hour)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(prPage([]map[string]interface{}{
			prNode(2, now.Add(-time.Hour)),
			prNode(1, since), // exactly on the bound: must be kept
			prNode(0, now.Add(-48*time.Hour)),
		}, true, "cursor-1"))
	}))
	defer server.Close()

	coll := NewGitHubCollector("token", testLogger(), WithBaseURLs("", server.URL))
	prs, err := coll.FetchPullRequestsSince(context.Background(), "acme", "api", since)
	require.NoError(t, err)

	require.Len(t, prs, 2)
	assert.Equal(t, 1, prs[1].Number, "record exactly at the bound is included")
}

func TestFetchPullRequestsWalksCursor(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)

	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&requests, 1)

		var body struct {
			Variables map[string]interface{} `json:"variables"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		if n == 1 {
			assert.Nil(t, body.Variables["cursor"])
			json.NewEncoder(w).Encode(prPage([]map[string]interface{}{
				prNode(4, now.Add(-time.Hour)),
				prNode(3, now.Add(-2*time.Hour)),
			}, true, "cursor-1"))
			return
		}
		assert.Equal(t, "cursor-1", body.Variables["cursor"])
		json.NewEncoder(w).Encode(prPage([]map[string]interface{}{
			prNode(2, now.Add(-3*time.Hour)),
			prNode(1, now.Add(-4*time.Hour)),
		}, false, ""))
	}))
	defer server.Close()

	coll := NewGitHubCollector("token", testLogger(), WithBaseURLs("", server.URL))
	prs, err := coll.FetchPullRequestsSince(context.Background(), "acme", "api", time.Time{})
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
	require.Len(t, prs, 4)
	assert.Equal(t, "merged", prs[0].State)
	assert.Equal(t, "alice", prs[0].Author.Login)
}

func TestCompareReleasesMapsCommits(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/repos/acme/api/compare/release/v24.2...release/v25.0")
		fmt.Fprint(w, `{
			"ahead_by": 2,
			"behind_by": 0,
			"total_commits": 2,
			"commits": [
				{"sha": "aaa", "commit": {"message": "fix: null pointer (#12)", "author": {"name": "Alice", "date": "2026-08-01T10:00:00Z"}}, "author": {"login": "alice"}},
				{"sha": "bbb", "commit": {"message": "chore: bump deps", "author": {"name": "Bob", "date": "2026-08-02T10:00:00Z"}}}
			]
		}`)
	}))
	defer server.Close()

	coll := NewGitHubCollector("token", testLogger(), WithBaseURLs(server.URL, ""))
	diff, err := coll.CompareReleases(context.Background(), "acme", "api", "release/v24.2", "release/v25.0")
	require.NoError(t, err)

	assert.Equal(t, 2, diff.AheadBy)
	assert.Equal(t, 2, diff.TotalCommits)
	require.Len(t, diff.Commits, 2)
	assert.Equal(t, "alice", diff.Commits[0].Author, "author login preferred")
	assert.Equal(t, "Bob", diff.Commits[1].Author, "falls back to the commit author name")
}

func TestCompareReleasesNotFoundDegradesToEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message": "Not Found"}`)
	}))
	defer server.Close()

	coll := NewGitHubCollector("token", testLogger(), WithBaseURLs(server.URL, ""))
	diff, err := coll.CompareReleases(context.Background(), "acme", "api", "release/v1.0", "release/v2.0")
	require.NoError(t, err, "404 must degrade to an empty result")
	assert.Empty(t, diff.Commits)
	assert.Equal(t, 0, diff.TotalCommits)
}

func TestListRepositoriesStopsAtPageCeiling(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&requests, 1)
		// A rel="next" link on every page: without the ceiling this walk
		// would never end.
		w.Header().Set("Link", fmt.Sprintf(`<https://api.example.com/repos?page=%d>; rel="next"`, n+1))
		w.Header().Set("X-RateLimit-Remaining", "4999")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10))
		fmt.Fprintf(w, `[{"name": "repo-%d"}]`, n)
	}))
	defer server.Close()

	coll := NewGitHubCollector("token", testLogger(), WithBaseURLs(server.URL, ""))
	disableMinDelay(coll)

	repos, err := coll.ListRepositories(context.Background(), "acme")
	require.NoError(t, err)

	assert.Equal(t, int32(maxListPages), atomic.LoadInt32(&requests))
	assert.Len(t, repos, maxListPages)
}

func TestFetchPullRequestsStopsAtCursorCeiling(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)

	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&requests, 1)
		// hasNextPage never goes false; without a date bound only the
		// ceiling stops the walk.
		json.NewEncoder(w).Encode(prPage([]map[string]interface{}{
			prNode(int(n), now.Add(-time.Duration(n)*time.Hour)),
		}, true, fmt.Sprintf("cursor-%d", n)))
	}))
	defer server.Close()

	coll := NewGitHubCollector("token", testLogger(), WithBaseURLs("", server.URL))
	disableMinDelay(coll)

	prs, err := coll.FetchPullRequestsSince(context.Background(), "acme", "api", time.Time{})
	require.NoError(t, err)

	assert.Equal(t, int32(maxCursorPages), atomic.LoadInt32(&requests))
	assert.Len(t, prs, maxCursorPages)
}

func TestListBranches(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"repository": map[string]interface{}{
					"refs": map[string]interface{}{
						"nodes": []map[string]interface{}{
							{"name": "release/v25.0", "target": map[string]interface{}{"committedDate": "2026-08-10T00:00:00Z"}},
							{"name": "main", "target": map[string]interface{}{"committedDate": "2026-08-12T00:00:00Z"}},
						},
					},
				},
				"rateLimit": map[string]interface{}{"remaining": 4998, "resetAt": time.Now().Add(time.Hour).Format(time.RFC3339)},
			},
		})
	}))
	defer server.Close()

	coll := NewGitHubCollector("token", testLogger(), WithBaseURLs("", server.URL))
	branches, err := coll.ListBranches(context.Background(), "acme", "api")
	require.NoError(t, err)
	require.Len(t, branches, 2)
	assert.Equal(t, "release/v25.0", branches[0].Name)
	assert.False(t, branches[0].CommittedDate.IsZero())
}
