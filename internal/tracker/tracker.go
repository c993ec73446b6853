// Package tracker resolves issue keys against the issue tracker's batched
// JQL search endpoint and builds epic progress rollups. Resolved tickets are
// cached per process so repeated runs only query the uncached remainder.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yamada-k/git-insights/internal/domain"
	apperrors "github.com/yamada-k/git-insights/internal/errors"
)

const (
	searchPath      = "/rest/api/3/search/jql"
	versionsPathFmt = "/rest/api/3/project/%s/versions"

	maxSearchResults = 100
	requestTimeout   = 30 * time.Second

	// Story points live in a custom field; the id is stable per site.
	storyPointsField = "customfield_10016"
	featureFlagLabel = "feature-flag"
)

var issueFields = []string{
	"summary", "issuetype", "status", "assignee", "priority", "labels", storyPointsField,
}

var priorityRank = map[string]int{
	"Highest": 0,
	"High":    1,
	"Medium":  2,
	"Low":     3,
	"Lowest":  4,
}

// Client talks to the issue tracker. Safe for concurrent use.
type Client struct {
	baseURL    string
	email      string
	token      string
	httpClient *http.Client
	logger     *logrus.Logger

	mu    sync.Mutex
	cache map[string]domain.IssueTicket
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates an issue-tracker client authenticating with email and
// API token.
func NewClient(baseURL, email, token string, logger *logrus.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		email:      email,
		token:      token,
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger,
		cache:      make(map[string]domain.IssueTicket),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve returns the tickets for the given keys, in input order, skipping
// keys the tracker does not know. Duplicate keys are collapsed and cached
// entries are served without a query; the uncached remainder is fetched with
// a single batched search.
func (c *Client) Resolve(ctx context.Context, keys []string) ([]domain.IssueTicket, error) {
	ordered := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		ordered = append(ordered, key)
	}
	if len(ordered) == 0 {
		return nil, nil
	}

	c.mu.Lock()
	var uncached []string
	for _, key := range ordered {
		if _, ok := c.cache[key]; !ok {
			uncached = append(uncached, key)
		}
	}
	c.mu.Unlock()

	if len(uncached) > 0 {
		jql := fmt.Sprintf("key in (%s)", strings.Join(uncached, ","))
		fetched, err := c.search(ctx, jql)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		for _, t := range fetched {
			c.cache[t.Key] = t
		}
		c.mu.Unlock()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	tickets := make([]domain.IssueTicket, 0, len(ordered))
	for _, key := range ordered {
		if t, ok := c.cache[key]; ok {
			tickets = append(tickets, t)
		}
	}
	return tickets, nil
}

// ResolveEpics queries the open and in-progress epics, loads each epic's
// linked sub-tickets and computes the progress rollups. Epics with the most
// incomplete tickets come first.
func (c *Client) ResolveEpics(ctx context.Context) ([]domain.Epic, error) {
	records, err := c.search(ctx, "issuetype = Epic AND statusCategory != Done ORDER BY created DESC")
	if err != nil {
		return nil, err
	}

	epics := make([]domain.Epic, 0, len(records))
	for _, record := range records {
		epic := domain.Epic{IssueTicket: record}

		subs, err := c.search(ctx, fmt.Sprintf(`"Epic Link" = %s OR parent = %s`, record.Key, record.Key))
		if err != nil {
			c.logger.WithError(err).WithField("epic", record.Key).Warn("Sub-ticket lookup failed")
			epics = append(epics, epic)
			continue
		}

		contributors := make(map[string]bool)
		for _, sub := range subs {
			epic.TotalStoryPoints += sub.StoryPoints
			if sub.Done() {
				epic.CompletedCount++
				epic.CompletedStoryPoints += sub.StoryPoints
			}
			if sub.Assignee != "" {
				contributors[sub.Assignee] = true
			}
		}
		if len(subs) > 0 {
			epic.CompletionPct = float64(epic.CompletedCount) / float64(len(subs)) * 100
		}
		for name := range contributors {
			epic.Contributors = append(epic.Contributors, name)
		}
		sort.Strings(epic.Contributors)

		sort.SliceStable(subs, func(i, j int) bool {
			di, dj := subs[i].Done(), subs[j].Done()
			if di != dj {
				return !di // incomplete first
			}
			return priority(subs[i].Priority) < priority(subs[j].Priority)
		})
		epic.SubTickets = subs

		epics = append(epics, epic)
	}

	sort.SliceStable(epics, func(i, j int) bool {
		ri, rj := epics[i].Remaining(), epics[j].Remaining()
		if ri != rj {
			return ri > rj
		}
		return epics[i].Key < epics[j].Key
	})
	return epics, nil
}

// ProjectVersions lists the tracker versions of a project. An unknown
// project degrades to an empty list.
func (c *Client) ProjectVersions(ctx context.Context, project string) ([]domain.TrackerVersion, error) {
	url := c.baseURL + fmt.Sprintf(versionsPathFmt, project)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.NewTransportError("build versions request", err)
	}
	req.SetBasicAuth(c.email, c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.NewTransportError("fetch project versions", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.NewTransportError(
			fmt.Sprintf("fetch project versions: status %d", resp.StatusCode), nil)
	}

	var raw []struct {
		Name        string `json:"name"`
		Released    bool   `json:"released"`
		ReleaseDate string `json:"releaseDate"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, apperrors.NewTransportError("decode project versions", err)
	}

	versions := make([]domain.TrackerVersion, 0, len(raw))
	for _, v := range raw {
		version := domain.TrackerVersion{Name: v.Name, Released: v.Released}
		if v.ReleaseDate != "" {
			if d, err := time.Parse("2006-01-02", v.ReleaseDate); err == nil {
				version.ReleaseDate = &d
			}
		}
		versions = append(versions, version)
	}
	return versions, nil
}

// MatchVersion finds the tracker version whose name starts with the release
// version string, e.g. release 25.0 matches tracker version "25.0.1".
func MatchVersion(versions []domain.TrackerVersion, release string) *domain.TrackerVersion {
	for i := range versions {
		if strings.HasPrefix(versions[i].Name, release) {
			return &versions[i]
		}
	}
	return nil
}

type searchRequest struct {
	JQL        string   `json:"jql"`
	MaxResults int      `json:"maxResults"`
	Fields     []string `json:"fields"`
}

type issueFieldsPayload struct {
	Summary   string `json:"summary"`
	IssueType struct {
		Name string `json:"name"`
	} `json:"issuetype"`
	Status struct {
		Name string `json:"name"`
	} `json:"status"`
	Assignee *struct {
		DisplayName string `json:"displayName"`
	} `json:"assignee"`
	Priority *struct {
		Name string `json:"name"`
	} `json:"priority"`
	Labels      []string `json:"labels"`
	StoryPoints *float64 `json:"customfield_10016"`
}

type searchResponse struct {
	Issues []struct {
		Key    string             `json:"key"`
		Fields issueFieldsPayload `json:"fields"`
	} `json:"issues"`
}

func (c *Client) search(ctx context.Context, jql string) ([]domain.IssueTicket, error) {
	body, err := json.Marshal(searchRequest{
		JQL:        jql,
		MaxResults: maxSearchResults,
		Fields:     issueFields,
	})
	if err != nil {
		return nil, apperrors.NewInternalError("encode search request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+searchPath, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.NewTransportError("build search request", err)
	}
	req.SetBasicAuth(c.email, c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.NewTransportError("issue search", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.NewTransportError(
			fmt.Sprintf("issue search: status %d", resp.StatusCode), nil)
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, apperrors.NewTransportError("decode search response", err)
	}

	tickets := make([]domain.IssueTicket, 0, len(decoded.Issues))
	for _, issue := range decoded.Issues {
		t := domain.IssueTicket{
			Key:       issue.Key,
			Summary:   issue.Fields.Summary,
			IssueType: issue.Fields.IssueType.Name,
			Status:    issue.Fields.Status.Name,
		}
		if issue.Fields.Assignee != nil {
			t.Assignee = issue.Fields.Assignee.DisplayName
		}
		if issue.Fields.Priority != nil {
			t.Priority = issue.Fields.Priority.Name
		}
		if issue.Fields.StoryPoints != nil {
			t.StoryPoints = *issue.Fields.StoryPoints
		}
		for _, label := range issue.Fields.Labels {
			if label == featureFlagLabel {
				t.FeatureFlag = true
			}
		}
		tickets = append(tickets, t)
	}
	return tickets, nil
}

func priority(name string) int {
	if rank, ok := priorityRank[name]; ok {
		return rank
	}
	return len(priorityRank) // None and unknown sort last
}
