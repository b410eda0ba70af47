package ghstats

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/go-github/v62/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestGateway points the gateway at a mock HTTP server.
func setupTestGateway(t *testing.T, handler http.Handler) (*GitHubGateway, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := github.NewClient(server.Client())
	baseURL, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	client.BaseURL = baseURL

	return &GitHubGateway{client: client}, server
}

func TestGatewayFetchRepo(t *testing.T) {
	gateway, _ := setupTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/octo/widget", r.URL.Path)
		fmt.Fprint(w, `{
			"full_name": "octo/widget",
			"stargazers_count": 420,
			"forks_count": 17,
			"subscribers_count": 9,
			"open_issues_count": 3
		}`)
	}))

	info, err := gateway.FetchRepo(context.Background(), "octo", "widget")
	require.NoError(t, err)
	assert.Equal(t, "octo/widget", info.FullName)
	assert.Equal(t, 420, info.Stars)
	assert.Equal(t, 17, info.Forks)
	assert.Equal(t, 9, info.Watchers)
	assert.Equal(t, 3, info.OpenIssues)
}

func TestGatewayFetchClones(t *testing.T) {
	gateway, _ := setupTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/octo/widget/traffic/clones", r.URL.Path)
		assert.Equal(t, "day", r.URL.Query().Get("per"))
		fmt.Fprint(w, `{
			"count": 30,
			"uniques": 12,
			"clones": [
				{"timestamp": "2026-08-27T00:00:00Z", "count": 10, "uniques": 4},
				{"timestamp": "2026-08-28T00:00:00Z", "count": 20, "uniques": 8}
			]
		}`)
	}))

	series, err := gateway.FetchClones(context.Background(), "octo", "widget")
	require.NoError(t, err)
	assert.Equal(t, 30, series.Total)
	assert.Equal(t, 12, series.Uniques)
	require.Len(t, series.Daily, 2)
	assert.Equal(t, 10, series.Daily[0].Count)
}

func TestGatewayFetchReleases(t *testing.T) {
	gateway, _ := setupTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/octo/widget/releases", r.URL.Path)
		fmt.Fprint(w, `[{
			"tag_name": "v1.2.0",
			"name": "Widget 1.2",
			"published_at": "2026-08-01T12:00:00Z",
			"assets": [
				{"download_count": 100},
				{"download_count": 50}
			]
		}]`)
	}))

	releases, err := gateway.FetchReleases(context.Background(), "octo", "widget")
	require.NoError(t, err)
	require.Len(t, releases, 1)
	assert.Equal(t, "v1.2.0", releases[0].Tag)
	assert.Equal(t, 150, releases[0].Downloads)
}

type fakeFetcher struct {
	repo     RepoInfo
	clones   TrafficSeries
	views    TrafficSeries
	releases []Release
	err      error
}

func (f *fakeFetcher) FetchRepo(_ context.Context, _, _ string) (RepoInfo, error) {
	return f.repo, f.err
}

func (f *fakeFetcher) FetchClones(_ context.Context, _, _ string) (TrafficSeries, error) {
	return f.clones, f.err
}

func (f *fakeFetcher) FetchViews(_ context.Context, _, _ string) (TrafficSeries, error) {
	return f.views, f.err
}

func (f *fakeFetcher) FetchReleases(_ context.Context, _, _ string) ([]Release, error) {
	return f.releases, f.err
}

func day(offset int) time.Time {
	return time.Date(2026, 8, 20+offset, 0, 0, 0, 0, time.UTC)
}

func TestCollectAggregates(t *testing.T) {
	fetcher := &fakeFetcher{
		repo: RepoInfo{FullName: "octo/widget", Stars: 420},
		clones: TrafficSeries{
			Total:   60,
			Uniques: 20,
			Daily: []TrafficPoint{
				{Date: day(0), Count: 10},
				{Date: day(1), Count: 20},
				{Date: day(2), Count: 30},
			},
		},
		views: TrafficSeries{
			Total:   100,
			Uniques: 40,
			Daily: []TrafficPoint{
				{Date: day(0), Count: 40},
				{Date: day(1), Count: 60},
			},
		},
		releases: []Release{{Tag: "v1.2.0", Downloads: 150}},
	}

	report, err := Collect(context.Background(), fetcher, "octo", "widget")
	require.NoError(t, err)

	assert.Equal(t, 420, report.Repo.Stars)
	assert.Equal(t, 60, report.Clones.Total)
	assert.InDelta(t, 20.0, report.Clones.DailyMean, 1e-9)
	assert.InDelta(t, 20.0, report.Clones.DailyMedian, 1e-9)
	assert.InDelta(t, 50.0, report.Views.DailyMean, 1e-9)
	require.Len(t, report.Releases, 1)
	assert.WithinDuration(t, time.Now(), report.GeneratedAt, time.Second)
}

func TestCollectPropagatesErrors(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("traffic requires push access")}

	_, err := Collect(context.Background(), fetcher, "octo", "widget")
	require.Error(t, err)
}

func TestWriteTable(t *testing.T) {
	report := &Report{
		Repo:     RepoInfo{FullName: "octo/widget", Stars: 420, Forks: 17},
		Clones:   TrafficStats{Total: 60, Uniques: 20, DailyMean: 20, DailyMedian: 20},
		Views:    TrafficStats{Total: 100, Uniques: 40, DailyMean: 50, DailyMedian: 50},
		Releases: []Release{{Tag: "v1.2.0", PublishedAt: day(0), Downloads: 150}},
	}

	var buf bytes.Buffer
	require.NoError(t, report.WriteTable(&buf))

	out := buf.String()
	assert.Contains(t, out, "octo/widget")
	assert.Contains(t, out, "clones (14d)")
	assert.Contains(t, out, "v1.2.0")
}

func TestWriteJSON(t *testing.T) {
	report := &Report{Repo: RepoInfo{FullName: "octo/widget"}}

	var buf bytes.Buffer
	require.NoError(t, report.WriteJSON(&buf))
	assert.Contains(t, buf.String(), `"fullName": "octo/widget"`)
}
