package ghstats

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"
)

// TrafficStats summarizes a traffic series.
type TrafficStats struct {
	Total       int     `json:"total"`
	Uniques     int     `json:"uniques"`
	DailyMean   float64 `json:"dailyMean"`
	DailyMedian float64 `json:"dailyMedian"`
}

// Report is the aggregated output: metadata, clone and view traffic,
// and release download counts.
type Report struct {
	Repo        RepoInfo     `json:"repo"`
	Clones      TrafficStats `json:"clones"`
	Views       TrafficStats `json:"views"`
	Releases    []Release    `json:"releases"`
	GeneratedAt time.Time    `json:"generatedAt"`
}

// Collect fetches everything concurrently and aggregates it.
func Collect(ctx context.Context, fetcher Fetcher, owner, repo string) (*Report, error) {
	report := &Report{}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		info, err := fetcher.FetchRepo(groupCtx, owner, repo)
		if err != nil {
			return err
		}
		report.Repo = info
		return nil
	})
	group.Go(func() error {
		series, err := fetcher.FetchClones(groupCtx, owner, repo)
		if err != nil {
			return err
		}
		report.Clones = summarize(series)
		return nil
	})
	group.Go(func() error {
		series, err := fetcher.FetchViews(groupCtx, owner, repo)
		if err != nil {
			return err
		}
		report.Views = summarize(series)
		return nil
	})
	group.Go(func() error {
		releases, err := fetcher.FetchReleases(groupCtx, owner, repo)
		if err != nil {
			return err
		}
		report.Releases = releases
		return nil
	})

	if err := group.Wait(); err != nil {
		return nil, err
	}

	report.GeneratedAt = time.Now().UTC()
	return report, nil
}

func summarize(series TrafficSeries) TrafficStats {
	summary := TrafficStats{
		Total:   series.Total,
		Uniques: series.Uniques,
	}
	if len(series.Daily) == 0 {
		return summary
	}

	daily := make([]float64, 0, len(series.Daily))
	for _, point := range series.Daily {
		daily = append(daily, float64(point.Count))
	}
	if mean, err := stats.Mean(daily); err == nil {
		summary.DailyMean = mean
	}
	if median, err := stats.Median(daily); err == nil {
		summary.DailyMedian = median
	}
	return summary
}

// WriteJSON renders the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}

// WriteTable renders the report as a plain-text table.
func (r *Report) WriteTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "repository\t%s\n", r.Repo.FullName)
	fmt.Fprintf(tw, "stars\t%d\n", r.Repo.Stars)
	fmt.Fprintf(tw, "forks\t%d\n", r.Repo.Forks)
	fmt.Fprintf(tw, "watchers\t%d\n", r.Repo.Watchers)
	fmt.Fprintf(tw, "open issues\t%d\n", r.Repo.OpenIssues)
	fmt.Fprintln(tw)

	fmt.Fprintf(tw, "\ttotal\tuniques\tdaily mean\tdaily median\n")
	fmt.Fprintf(tw, "clones (14d)\t%d\t%d\t%.1f\t%.1f\n",
		r.Clones.Total, r.Clones.Uniques, r.Clones.DailyMean, r.Clones.DailyMedian)
	fmt.Fprintf(tw, "views (14d)\t%d\t%d\t%.1f\t%.1f\n",
		r.Views.Total, r.Views.Uniques, r.Views.DailyMean, r.Views.DailyMedian)

	if len(r.Releases) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintf(tw, "release\tpublished\tdownloads\n")
		for _, release := range r.Releases {
			fmt.Fprintf(tw, "%s\t%s\t%d\n",
				release.Tag, release.PublishedAt.Format("2006-01-02"), release.Downloads)
		}
	}

	return tw.Flush()
}
