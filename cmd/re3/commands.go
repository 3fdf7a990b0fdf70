package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/re3-harness/internal/batch"
	"github.com/hochfrequenz/re3-harness/internal/bench"
	"github.com/hochfrequenz/re3-harness/internal/catalog"
	"github.com/hochfrequenz/re3-harness/internal/channel"
	"github.com/hochfrequenz/re3-harness/internal/config"
	"github.com/hochfrequenz/re3-harness/internal/coordinator"
	"github.com/hochfrequenz/re3-harness/internal/domain"
	"github.com/hochfrequenz/re3-harness/internal/ledger"
	"github.com/hochfrequenz/re3-harness/internal/llm"
	"github.com/hochfrequenz/re3-harness/internal/notify"
	"github.com/hochfrequenz/re3-harness/internal/observer"
	"github.com/hochfrequenz/re3-harness/internal/prompt"
	"github.com/hochfrequenz/re3-harness/internal/recorder"
	"github.com/hochfrequenz/re3-harness/internal/runner"
	"github.com/hochfrequenz/re3-harness/internal/store"
	"github.com/hochfrequenz/re3-harness/tui"
	"github.com/hochfrequenz/re3-harness/web/api"
)

var (
	listStatus        string
	listClaimant      string
	contMax           int
	contIgnoreWindows bool
	summaryCSV        bool
	servePort         int
)

func init() {
	// init command
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE:  runInit,
	}
	rootCmd.AddCommand(initCmd)

	// status command
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show slice progress from the local logs",
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)

	// list command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List slices",
		RunE:  runList,
	}
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	listCmd.Flags().StringVar(&listClaimant, "claimant", "", "filter by claimant")
	rootCmd.AddCommand(listCmd)

	// next command
	nextCmd := &cobra.Command{
		Use:   "next",
		Short: "Claim the next unclaimed slice without running it",
		RunE:  runNext,
	}
	rootCmd.AddCommand(nextCmd)

	// run command
	runCmd := &cobra.Command{
		Use:   "run [SLICE]",
		Short: "Claim and run one slice, or rerun a specific slice key",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runRun,
	}
	rootCmd.AddCommand(runCmd)

	// continuous command
	continuousCmd := &cobra.Command{
		Use:   "continuous",
		Short: "Claim and run slices until none are left",
		RunE:  runContinuous,
	}
	continuousCmd.Flags().IntVar(&contMax, "max", 0, "stop after this many slices (0 = unlimited)")
	continuousCmd.Flags().BoolVar(&contIgnoreWindows, "ignore-windows", false, "run outside the configured schedule windows")
	rootCmd.AddCommand(continuousCmd)

	// rebuild command
	rebuildCmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the progress snapshot and cache from the logs",
		RunE:  runRebuild,
	}
	rootCmd.AddCommand(rebuildCmd)

	// reclaim command
	reclaimCmd := &cobra.Command{
		Use:   "reclaim",
		Short: "Release claims whose workers have gone silent",
		RunE:  runReclaim,
	}
	rootCmd.AddCommand(reclaimCmd)

	// summary command
	summaryCmd := &cobra.Command{
		Use:   "summary",
		Short: "Summarize accuracy per slice from the run logs",
		RunE:  runSummary,
	}
	summaryCmd.Flags().BoolVar(&summaryCSV, "csv", false, "also write a CSV summary into the data directory")
	rootCmd.AddCommand(summaryCmd)

	// smoke command
	smokeCmd := &cobra.Command{
		Use:   "smoke",
		Short: "Probe the model endpoint and run one test completion",
		RunE:  runSmoke,
	}
	rootCmd.AddCommand(smokeCmd)

	// serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the status API, refreshing as the logs change",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)

	// tui command
	tuiCmd := &cobra.Command{
		Use:   "tui",
		Short: "Launch the dashboard",
		RunE:  runTUI,
	}
	rootCmd.AddCommand(tuiCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

func workerID(cfg *config.Config) string {
	if cfg.General.Worker != "" {
		return cfg.General.Worker
	}
	return domain.WorkerID()
}

// buildCoordinator wires the claim protocol stack for this worker
func buildCoordinator(cfg *config.Config) (*coordinator.Coordinator, *channel.Channel, *recorder.Recorder, *catalog.Catalog, error) {
	cat, err := catalog.Load()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("load catalog: %w", err)
	}
	rec, err := recorder.New(cfg.DataDir(), workerID(cfg))
	if err != nil {
		return nil, nil, nil, nil, err
	}
	ch := channel.New(cfg.General.RepoRoot, channel.Options{
		Paths: []string{cfg.General.DataDir},
	})
	coord := coordinator.New(ch, rec, cat, coordinator.Options{
		Worker:         workerID(cfg),
		DataDir:        cfg.DataDir(),
		Target:         cfg.Run.ItemsPerSlice,
		Phase:          cfg.Run.PriorityPhase,
		LivenessWindow: cfg.LivenessWindow(),
		ClaimRetries:   cfg.Claim.Retries,
	})
	return coord, ch, rec, cat, nil
}

func buildClient(cfg *config.Config) *llm.Client {
	return llm.New(llm.Options{
		BaseURL:     cfg.Endpoint.URL,
		Model:       cfg.Endpoint.Model,
		Temperature: cfg.Endpoint.Temperature,
		MaxTokens:   cfg.Endpoint.MaxTokens,
		Timeout:     cfg.EndpointTimeout(),
		Retries:     cfg.Endpoint.Retries,
	})
}

func buildRunner(cfg *config.Config, client *llm.Client, rec *recorder.Recorder, ch *channel.Channel) *runner.Runner {
	prompts := prompt.DefaultLoader(cfg.General.RepoRoot)
	return runner.New(client, rec, prompts, ch, runner.Options{
		DataDir:      cfg.DataDir(),
		Worker:       workerID(cfg),
		Phase:        cfg.Run.Phase,
		MaxPending:   cfg.Run.MaxPending,
		PublishEvery: cfg.Run.PublishEvery,
	})
}

func buildNotifier(cfg *config.Config) notify.Notifier {
	notifiers := []notify.Notifier{notify.NewDesktopNotifier(cfg.Notify.Desktop)}
	if cfg.Notify.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.Notify.SlackWebhook))
	}
	return notify.NewMultiNotifier(notifiers...)
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}
	if err := config.Default().Save(path); err != nil {
		return err
	}
	fmt.Printf("Wrote default config to %s\n", path)
	fmt.Println("Edit repo_root to point at the shared coordination checkout.")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	coord, _, _, _, err := buildCoordinator(cfg)
	if err != nil {
		return err
	}

	l, err := coord.Rebuild()
	if err != nil {
		return err
	}

	counts := l.CountByStatus()
	fmt.Printf("Slices: %d total | %d unclaimed | %d claimed | %d in progress | %d complete | %d failed\n",
		len(l.Slices),
		counts[domain.StatusUnclaimed], counts[domain.StatusClaimed],
		counts[domain.StatusInProgress], counts[domain.StatusComplete],
		counts[domain.StatusFailed])

	if len(l.Workers) == 0 {
		return nil
	}

	ids := make([]string, 0, len(l.Workers))
	for id := range l.Workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WORKER\tACTIVE\tRECORDS\tLAST SEEN")
	for _, id := range ids {
		info := l.Workers[id]
		lastSeen := "-"
		if !info.LastSeen.IsZero() {
			lastSeen = info.LastSeen.UTC().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", id, info.Active, info.Records, lastSeen)
	}
	w.Flush()

	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	coord, _, _, _, err := buildCoordinator(cfg)
	if err != nil {
		return err
	}

	l, err := coord.Rebuild()
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(l.Slices))
	for key := range l.Slices {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SLICE\tSTATUS\tITEMS\tCLAIMANT")
	for _, key := range keys {
		e := l.Slices[key]
		if listStatus != "" && string(e.Status) != listStatus {
			continue
		}
		if listClaimant != "" && e.Claimant != listClaimant {
			continue
		}
		claimant := e.Claimant
		if claimant == "" {
			claimant = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\n", e.SliceKey, e.Status, e.Recorded, e.Target, claimant)
	}
	w.Flush()

	return nil
}

func runNext(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	coord, _, _, _, err := buildCoordinator(cfg)
	if err != nil {
		return err
	}

	s, err := coord.ClaimNext(cmd.Context())
	if errors.Is(err, coordinator.ErrNoSlices) {
		fmt.Println("Nothing left to claim")
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Printf("Claimed %s (%d items)\n", s.Key(), s.Target)
	fmt.Printf("Run it with: re3 run %s\n", s.Key())
	return nil
}

// errEndpointDown aborts continuous mode; a dead endpoint fails every
// item instantly and would burn through slices producing nothing
var errEndpointDown = errors.New("model endpoint appears to be down")

// executeSlice runs a claimed slice end to end and ends the claim. Run
// failures mark the slice failed; an invalid run releases it so another
// worker can pick it up once the endpoint recovers.
func executeSlice(ctx context.Context, cfg *config.Config, coord *coordinator.Coordinator, run *runner.Runner, notifier notify.Notifier, s domain.Slice) error {
	worker := workerID(cfg)

	items, err := bench.Load(cfg.BenchDir(), s.Benchmark, s.Target)
	if err != nil {
		if failErr := coord.Fail(ctx, s.Key(), fmt.Sprintf("benchmark data: %v", err)); failErr != nil {
			log.Printf("fail %s: %v", s.Key(), failErr)
		}
		return fmt.Errorf("load benchmark %s: %w", s.Benchmark, err)
	}

	res, err := run.RunSlice(ctx, s, items)
	if err != nil {
		if failErr := coord.Fail(ctx, s.Key(), err.Error()); failErr != nil {
			log.Printf("fail %s: %v", s.Key(), failErr)
		}
		notifier.Send(notify.Notification{
			Title:    "Slice failed",
			Message:  err.Error(),
			Type:     notify.NotifyError,
			SliceKey: s.Key(),
			Worker:   worker,
		})
		return err
	}

	if res.Invalid {
		if relErr := coord.Release(ctx, s.Key(), "endpoint failure, every item errored"); relErr != nil {
			log.Printf("release %s: %v", s.Key(), relErr)
		}
		notifier.Send(notify.Notification{
			Title:    "Slice released",
			Message:  "Every item errored instantly; check the model endpoint",
			Type:     notify.NotifyWarning,
			SliceKey: s.Key(),
			Worker:   worker,
		})
		return errEndpointDown
	}

	reason := fmt.Sprintf("ran %d items, %d correct, %d errors", res.Completed, res.Correct, res.Errors)
	if err := coord.Release(ctx, s.Key(), reason); err != nil {
		return fmt.Errorf("release %s: %w", s.Key(), err)
	}

	notifier.Send(notify.Notification{
		Title:    "Slice complete",
		Message:  reason,
		Type:     notify.NotifySuccess,
		SliceKey: s.Key(),
		Worker:   worker,
	})
	fmt.Printf("%s: %d run, %d skipped, %d correct, %d errors, avg %.0fms\n",
		s.Key(), res.Completed, res.Skipped, res.Correct, res.Errors, res.AvgLatMS)
	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	coord, ch, rec, cat, err := buildCoordinator(cfg)
	if err != nil {
		return err
	}
	run := buildRunner(cfg, buildClient(cfg), rec, ch)
	notifier := buildNotifier(cfg)
	ctx := cmd.Context()

	// An explicit key reruns that slice directly; the claim protocol is
	// only engaged when the coordinator picks the slice.
	if len(args) > 0 {
		s, err := cat.Find(args[0], cfg.Run.ItemsPerSlice)
		if err != nil {
			return err
		}
		items, err := bench.Load(cfg.BenchDir(), s.Benchmark, s.Target)
		if err != nil {
			return fmt.Errorf("load benchmark %s: %w", s.Benchmark, err)
		}
		res, err := run.RunSlice(ctx, s, items)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d run, %d skipped, %d correct, %d errors, avg %.0fms\n",
			s.Key(), res.Completed, res.Skipped, res.Correct, res.Errors, res.AvgLatMS)
		if err := ch.Publish(ctx, fmt.Sprintf("run %s: %d records", s.Key(), res.Completed)); err != nil {
			return fmt.Errorf("publish: %w", err)
		}
		return nil
	}

	s, err := coord.ClaimNext(ctx)
	if errors.Is(err, coordinator.ErrNoSlices) {
		fmt.Println("Nothing left to claim")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Printf("Claimed %s (%d items)\n", s.Key(), s.Target)

	return executeSlice(ctx, cfg, coord, run, notifier, s)
}

func runContinuous(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	coord, ch, rec, _, err := buildCoordinator(cfg)
	if err != nil {
		return err
	}
	client := buildClient(cfg)
	run := buildRunner(cfg, client, rec, ch)
	notifier := buildNotifier(cfg)
	ctx := cmd.Context()

	sched, err := batch.NewScheduler(cfg.Schedule.Windows, time.Duration(cfg.Schedule.WindowMinutes)*time.Minute)
	if err != nil {
		return err
	}

	if st := client.Probe(ctx); !st.Running {
		return fmt.Errorf("endpoint %s is not responding", cfg.Endpoint.URL)
	}

	for n := 0; contMax == 0 || n < contMax; n++ {
		if !contIgnoreWindows {
			if err := sched.Wait(ctx); err != nil {
				return err
			}
		}

		s, err := coord.ClaimNext(ctx)
		if errors.Is(err, coordinator.ErrNoSlices) {
			fmt.Println("All slices complete or claimed")
			return nil
		}
		if errors.Is(err, coordinator.ErrClaimContended) {
			log.Printf("all claim attempts contended, backing off")
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		if err != nil {
			return err
		}
		log.Printf("claimed %s", s.Key())

		if err := executeSlice(ctx, cfg, coord, run, notifier, s); err != nil {
			if errors.Is(err, errEndpointDown) || ctx.Err() != nil {
				return err
			}
			// A failed slice is recorded in the logs; keep going.
			log.Printf("slice %s: %v", s.Key(), err)
		}
	}

	return nil
}

func runRebuild(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	coord, ch, _, _, err := buildCoordinator(cfg)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if err := ch.Pull(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "pull failed, rebuilding from local logs: %v\n", err)
	}

	l, err := coord.Rebuild()
	if err != nil {
		return err
	}
	if err := l.Save(cfg.SnapshotPath()); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	st, err := store.New(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Replace(l); err != nil {
		return fmt.Errorf("refresh cache: %w", err)
	}

	counts := l.CountByStatus()
	fmt.Printf("Rebuilt %d slices (%d complete, %d failed) into %s\n",
		len(l.Slices), counts[domain.StatusComplete], counts[domain.StatusFailed],
		cfg.SnapshotPath())
	return nil
}

func runReclaim(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	coord, _, _, _, err := buildCoordinator(cfg)
	if err != nil {
		return err
	}

	stale, err := coord.ReclaimStale(cmd.Context())
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		fmt.Println("No stale claims")
		return nil
	}

	for _, c := range stale {
		fmt.Printf("Reclaimed %s from %s (claimed %s, last activity %s)\n",
			c.SliceKey, c.Claimant,
			c.ClaimedAt.UTC().Format("2006-01-02 15:04"),
			c.LastActivity.UTC().Format("2006-01-02 15:04"))
	}
	return nil
}

func runSummary(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	runs, err := recorder.LoadRuns(cfg.DataDir())
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No run records yet")
		return nil
	}

	rows := recorder.Summarize(runs)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CONFIG\tPATTERN\tSTRATEGY\tBENCH\tN\tACC\t95% CI\tERR\tLAT MS")
	for _, row := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%.3f\t[%.3f, %.3f]\t%d\t%.0f\n",
			row.ConfigID, row.Pattern, row.Strategy, row.Benchmark,
			row.Total, row.Accuracy, row.CILow, row.CIHigh, row.Errors, row.AvgLatency)
	}
	w.Flush()

	if summaryCSV {
		rec, err := recorder.New(cfg.DataDir(), workerID(cfg))
		if err != nil {
			return err
		}
		path, err := rec.WriteSummaryCSV(runs)
		if err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
	}
	return nil
}

func runSmoke(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client := buildClient(cfg)
	ctx := cmd.Context()

	st := client.Probe(ctx)
	if !st.Running {
		return fmt.Errorf("endpoint %s is not responding", cfg.Endpoint.URL)
	}
	fmt.Printf("Endpoint up, %d model(s), loaded: %s\n", len(st.Models), st.Loaded)

	// One synthetic item through the real prompt template; nothing here is
	// recorded, so the placeholder IDs never reach the shared logs.
	item := bench.Placeholders("gsm8k", 1)[0]
	promptText, err := prompt.DefaultLoader(cfg.General.RepoRoot).Format(item)
	if err != nil {
		return err
	}
	resp, err := client.Complete(ctx, promptText)
	if err != nil {
		return err
	}
	fmt.Printf("%s answered in %dms: %s\n", resp.Model, resp.LatencyMS, strings.TrimSpace(resp.Text))
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	coord, _, _, _, err := buildCoordinator(cfg)
	if err != nil {
		return err
	}

	st, err := store.New(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer st.Close()

	l, err := coord.Rebuild()
	if err != nil {
		return err
	}
	if err := st.Replace(l); err != nil {
		return err
	}

	port := servePort
	if port == 0 {
		port = cfg.Web.Port
	}
	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, port)
	server := api.NewServer(st, addr)

	watcher, err := observer.NewLogWatcher(cfg.DataDir(), func(paths []string) {
		l, err := coord.Rebuild()
		if err != nil {
			log.Printf("rebuild after log change: %v", err)
			return
		}
		if err := st.Replace(l); err != nil {
			log.Printf("refresh cache: %v", err)
			return
		}
		server.Broadcast(api.Event{Type: "ledger", Counts: l.CountByStatus(), Rebuilt: l.LastUpdated})
	})
	if err != nil {
		return err
	}
	watcher.Start(cmd.Context())
	defer watcher.Stop()

	fmt.Printf("Serving status API at http://%s\n", addr)
	return server.Start()
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	coord, _, _, cat, err := buildCoordinator(cfg)
	if err != nil {
		return err
	}

	configIDs := make([]string, 0, len(cat.Configs))
	for _, c := range cat.Configs {
		configIDs = append(configIDs, c.ID)
	}

	model := tui.NewModel(tui.ModelConfig{
		Worker:     workerID(cfg),
		ConfigIDs:  configIDs,
		Benchmarks: cat.Benchmarks,
		Refresh: func() (tui.Snapshot, error) {
			l, err := coord.Rebuild()
			if err != nil {
				return tui.Snapshot{}, err
			}
			return snapshotFromLedger(l), nil
		},
	})

	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err = p.Run()
	return err
}

func snapshotFromLedger(l *ledger.Ledger) tui.Snapshot {
	keys := make([]string, 0, len(l.Slices))
	for key := range l.Slices {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	slices := make([]domain.LedgerEntry, 0, len(keys))
	for _, key := range keys {
		slices = append(slices, l.Slices[key])
	}

	ids := make([]string, 0, len(l.Workers))
	for id := range l.Workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	workers := make([]store.WorkerRow, 0, len(ids))
	for _, id := range ids {
		info := l.Workers[id]
		workers = append(workers, store.WorkerRow{
			WorkerID: id,
			LastSeen: info.LastSeen,
			Active:   info.Active,
			Records:  info.Records,
		})
	}

	return tui.Snapshot{Slices: slices, Workers: workers, Rebuilt: l.LastUpdated}
}
