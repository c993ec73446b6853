package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yamada-k/git-insights/internal/cache"
	"github.com/yamada-k/git-insights/internal/collector"
	"github.com/yamada-k/git-insights/internal/config"
	"github.com/yamada-k/git-insights/internal/domain"
	"github.com/yamada-k/git-insights/internal/service"
	"github.com/yamada-k/git-insights/internal/tracker"
)

var (
	outputJSON bool
	days       int
	repos      []string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "git-insights",
	Short: "Engineering activity metrics tool",
	Long: `A CLI tool for pulling GitHub and JIRA activity into engineering metrics.

It aggregates pull request activity into contributor, repository and weekly
statistics, compares release branches commit by commit, and rolls up epic
progress from the issue tracker.`,
}

var metricsCmd = &cobra.Command{
	Use:   "metrics [org]",
	Short: "Show the aggregated metrics report",
	Long:  `Fetch pull request activity for an organization and display the aggregated metrics report.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runMetrics,
}

var releasesCmd = &cobra.Command{
	Use:   "releases [org]",
	Short: "Show the release-delta report",
	Long:  `Compare release branches and display the commits, change types and migration risks each release carries.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runReleases,
}

var epicsCmd = &cobra.Command{
	Use:   "epics",
	Short: "Show epic progress from the issue tracker",
	Args:  cobra.NoArgs,
	RunE:  runEpics,
}

var clearCacheCmd = &cobra.Command{
	Use:   "clear-cache",
	Short: "Drop every cached report",
	Args:  cobra.NoArgs,
	RunE:  runClearCache,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().IntVar(&days, "days", 0, "lookback window in days (default from LOOKBACK_DAYS)")
	rootCmd.PersistentFlags().StringSliceVar(&repos, "repos", nil, "repositories to include (default from GITHUB_REPOS, else discovered)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	rootCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(releasesCmd)
	rootCmd.AddCommand(epicsCmd)
	rootCmd.AddCommand(clearCacheCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func buildService() (*service.Service, *config.Config, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.WarnLevel)
	}

	store, err := cache.New(cfg, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize cache backend: %w", err)
	}

	coll := collector.NewGitHubCollector(cfg.GitHubToken, logger)

	var trk service.Tracker
	if cfg.TrackerEnabled() {
		trk = tracker.NewClient(cfg.JiraURL, cfg.JiraEmail, cfg.JiraToken, logger)
	}

	svc := service.New(cfg, coll, store, trk, logger)
	cleanup := func() { _ = store.Close() }
	return svc, cfg, cleanup, nil
}

func targetOrg(cfg *config.Config, args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return cfg.Org
}

func targetRepos(cfg *config.Config) []string {
	if len(repos) > 0 {
		return repos
	}
	return cfg.Repos
}

func windowDays(cfg *config.Config) int {
	if days > 0 {
		return days
	}
	return cfg.LookbackDays
}

func runMetrics(cmd *cobra.Command, args []string) error {
	svc, cfg, cleanup, err := buildService()
	if err != nil {
		return err
	}
	defer cleanup()

	progress := make(chan service.ProgressEvent, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range progress {
			if !outputJSON {
				fmt.Fprintf(os.Stderr, "Fetched %s (%d/%d)\n", ev.Repo, ev.Completed, ev.Total)
			}
		}
	}()

	report, err := svc.Metrics(context.Background(), targetOrg(cfg, args), windowDays(cfg), targetRepos(cfg), progress)
	close(progress)
	<-done
	if err != nil {
		return err
	}

	if outputJSON {
		return printJSON(report)
	}
	renderMetrics(report)
	return nil
}

func runReleases(cmd *cobra.Command, args []string) error {
	svc, cfg, cleanup, err := buildService()
	if err != nil {
		return err
	}
	defer cleanup()

	reports, err := svc.Releases(context.Background(), targetOrg(cfg, args), targetRepos(cfg))
	if err != nil {
		return err
	}

	if outputJSON {
		return printJSON(reports)
	}
	renderReleases(reports)
	return nil
}

func runEpics(cmd *cobra.Command, args []string) error {
	svc, _, cleanup, err := buildService()
	if err != nil {
		return err
	}
	defer cleanup()

	epics, err := svc.Epics(context.Background())
	if err != nil {
		return err
	}

	if outputJSON {
		return printJSON(epics)
	}
	renderEpics(epics)
	return nil
}

func runClearCache(cmd *cobra.Command, args []string) error {
	svc, _, cleanup, err := buildService()
	if err != nil {
		return err
	}
	defer cleanup()

	svc.ClearCache(context.Background())
	fmt.Println("Cache cleared")
	return nil
}

func printJSON(v interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func renderMetrics(report *domain.MetricsReport) {
	fmt.Printf("Metrics for %s (last %d days)\n\n", report.Org, report.WindowDays)

	fmt.Println("Contributors:")
	contributors := tablewriter.NewWriter(os.Stdout)
	contributors.SetHeader([]string{"Login", "PRs", "Merged", "Open", "Closed", "Avg Size", "Avg Review (h)"})
	for _, c := range report.Contributors {
		contributors.Append([]string{
			c.Login,
			strconv.Itoa(c.PRCount),
			strconv.Itoa(c.MergedPRs),
			strconv.Itoa(c.OpenPRs),
			strconv.Itoa(c.ClosedPRs),
			fmt.Sprintf("%.0f", c.AvgPRSize),
			fmt.Sprintf("%.1f", c.AvgReviewHours),
		})
	}
	contributors.Render()

	fmt.Println("\nRepositories:")
	repositories := tablewriter.NewWriter(os.Stdout)
	repositories.SetHeader([]string{"Repository", "Total", "Open", "Merged", "Closed"})
	for _, r := range report.Repositories {
		repositories.Append([]string{
			r.Name,
			strconv.Itoa(r.TotalPRs),
			strconv.Itoa(r.OpenPRs),
			strconv.Itoa(r.MergedPRs),
			strconv.Itoa(r.ClosedPRs),
		})
	}
	repositories.Render()

	if len(report.ProjectWorkData) > 0 {
		fmt.Println("\nProject work:")
		projects := tablewriter.NewWriter(os.Stdout)
		projects.SetHeader([]string{"Project", "Merged", "Open", "Closed"})
		for _, p := range report.ProjectWorkData {
			projects.Append([]string{
				p.Project,
				strconv.Itoa(p.Merged),
				strconv.Itoa(p.Open),
				strconv.Itoa(p.Closed),
			})
		}
		projects.Render()
	}

	if len(report.SkippedRepos) > 0 {
		fmt.Printf("\nSkipped repositories: %v\n", report.SkippedRepos)
	}
}

func renderReleases(reports []domain.ReleaseReport) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"App", "Base", "Head", "Status", "Changes", "Migrations", "Tracker Version"})
	for _, r := range reports {
		trackerVersion := ""
		if r.TrackerVersion != nil {
			trackerVersion = r.TrackerVersion.Name
			if r.TrackerVersion.Released {
				trackerVersion += " (released)"
			}
		}
		table.Append([]string{
			r.App,
			r.BaseRelease,
			r.HeadRelease,
			r.Status,
			strconv.Itoa(r.ChangeCount),
			strconv.Itoa(len(r.DBMigrations)),
			trackerVersion,
		})
	}
	table.Render()

	for _, r := range reports {
		if len(r.DBMigrations) == 0 {
			continue
		}
		fmt.Printf("\nMigration risks in %s (%s):\n", r.App, r.Path)
		for _, m := range r.DBMigrations {
			fmt.Printf("  %s %s (#%d)\n", m.SHA[:min(7, len(m.SHA))], m.Subject, m.PRNumber)
		}
	}
}

func renderEpics(epics []domain.Epic) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Summary", "Done", "Total", "Progress", "Story Points", "Contributors"})
	for _, e := range epics {
		table.Append([]string{
			e.Key,
			e.Summary,
			strconv.Itoa(e.CompletedCount),
			strconv.Itoa(len(e.SubTickets)),
			fmt.Sprintf("%.0f%%", e.CompletionPct),
			fmt.Sprintf("%.1f/%.1f", e.CompletedStoryPoints, e.TotalStoryPoints),
			strconv.Itoa(len(e.Contributors)),
		})
	}
	table.Render()
}
