// Package ghstats reports repository popularity and traffic numbers
// from the GitHub API.
package ghstats

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"
)

// RepoInfo is the repository metadata slice of a report.
type RepoInfo struct {
	FullName   string `json:"fullName"`
	Stars      int    `json:"stars"`
	Forks      int    `json:"forks"`
	Watchers   int    `json:"watchers"`
	OpenIssues int    `json:"openIssues"`
}

// TrafficPoint is one day of clone or view traffic.
type TrafficPoint struct {
	Date    time.Time `json:"date"`
	Count   int       `json:"count"`
	Uniques int       `json:"uniques"`
}

// TrafficSeries is the 14-day traffic window GitHub exposes.
type TrafficSeries struct {
	Total   int            `json:"total"`
	Uniques int            `json:"uniques"`
	Daily   []TrafficPoint `json:"daily"`
}

// Release is one published release with its total asset downloads.
type Release struct {
	Tag         string    `json:"tag"`
	Name        string    `json:"name,omitempty"`
	PublishedAt time.Time `json:"publishedAt"`
	Downloads   int       `json:"downloads"`
}

// Fetcher is the GitHub surface the report needs.
type Fetcher interface {
	FetchRepo(ctx context.Context, owner, repo string) (RepoInfo, error)
	FetchClones(ctx context.Context, owner, repo string) (TrafficSeries, error)
	FetchViews(ctx context.Context, owner, repo string) (TrafficSeries, error)
	FetchReleases(ctx context.Context, owner, repo string) ([]Release, error)
}

// GitHubGateway implements Fetcher on the REST API, behind a rate-limit
// waiter so secondary limits park instead of failing.
type GitHubGateway struct {
	client *github.Client
}

func NewGitHubGateway(token string) (*GitHubGateway, error) {
	rateLimitWaiter, err := github_ratelimit.NewRateLimitWaiter(nil,
		github_ratelimit.WithSingleSleepLimit(time.Hour, nil))
	if err != nil {
		return nil, fmt.Errorf("create rate limit waiter: %w", err)
	}

	httpClient := &http.Client{Transport: rateLimitWaiter}
	if token != "" {
		httpClient.Transport = &oauth2.Transport{
			Base:   rateLimitWaiter,
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
		}
	}

	return &GitHubGateway{client: github.NewClient(httpClient)}, nil
}

func (g *GitHubGateway) FetchRepo(ctx context.Context, owner, repo string) (RepoInfo, error) {
	repository, _, err := g.client.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return RepoInfo{}, fmt.Errorf("fetch repository: %w", err)
	}
	return RepoInfo{
		FullName:   repository.GetFullName(),
		Stars:      repository.GetStargazersCount(),
		Forks:      repository.GetForksCount(),
		Watchers:   repository.GetSubscribersCount(),
		OpenIssues: repository.GetOpenIssuesCount(),
	}, nil
}

func (g *GitHubGateway) FetchClones(ctx context.Context, owner, repo string) (TrafficSeries, error) {
	clones, _, err := g.client.Repositories.ListTrafficClones(ctx, owner, repo,
		&github.TrafficBreakdownOptions{Per: "day"})
	if err != nil {
		return TrafficSeries{}, fmt.Errorf("fetch clone traffic: %w", err)
	}

	series := TrafficSeries{
		Total:   clones.GetCount(),
		Uniques: clones.GetUniques(),
	}
	for _, point := range clones.Clones {
		series.Daily = append(series.Daily, TrafficPoint{
			Date:    point.GetTimestamp().Time,
			Count:   point.GetCount(),
			Uniques: point.GetUniques(),
		})
	}
	return series, nil
}

func (g *GitHubGateway) FetchViews(ctx context.Context, owner, repo string) (TrafficSeries, error) {
	views, _, err := g.client.Repositories.ListTrafficViews(ctx, owner, repo,
		&github.TrafficBreakdownOptions{Per: "day"})
	if err != nil {
		return TrafficSeries{}, fmt.Errorf("fetch view traffic: %w", err)
	}

	series := TrafficSeries{
		Total:   views.GetCount(),
		Uniques: views.GetUniques(),
	}
	for _, point := range views.Views {
		series.Daily = append(series.Daily, TrafficPoint{
			Date:    point.GetTimestamp().Time,
			Count:   point.GetCount(),
			Uniques: point.GetUniques(),
		})
	}
	return series, nil
}

func (g *GitHubGateway) FetchReleases(ctx context.Context, owner, repo string) ([]Release, error) {
	list, _, err := g.client.Repositories.ListReleases(ctx, owner, repo,
		&github.ListOptions{PerPage: 20})
	if err != nil {
		return nil, fmt.Errorf("fetch releases: %w", err)
	}

	releases := make([]Release, 0, len(list))
	for _, rel := range list {
		downloads := 0
		for _, asset := range rel.Assets {
			downloads += asset.GetDownloadCount()
		}
		releases = append(releases, Release{
			Tag:         rel.GetTagName(),
			Name:        rel.GetName(),
			PublishedAt: rel.GetPublishedAt().Time,
			Downloads:   downloads,
		})
	}
	return releases, nil
}
