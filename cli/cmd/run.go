package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	lodeapi "github.com/justapithecus/lode/lode"
	"github.com/segmentio/ksuid"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/zipline/adapter"
	"github.com/pithecene-io/zipline/adapter/redis"
	"github.com/pithecene-io/zipline/adapter/webhook"
	ziplineconfig "github.com/pithecene-io/zipline/cli/config"
	"github.com/pithecene-io/zipline/cli/render"
	"github.com/pithecene-io/zipline/cli/tui"
	"github.com/pithecene-io/zipline/fetch"
	"github.com/pithecene-io/zipline/ipc"
	"github.com/pithecene-io/zipline/lode"
	"github.com/pithecene-io/zipline/log"
	"github.com/pithecene-io/zipline/metrics"
	"github.com/pithecene-io/zipline/proxy"
	"github.com/pithecene-io/zipline/runtime"
	"github.com/pithecene-io/zipline/sink"
	"github.com/pithecene-io/zipline/types"
)

// Exit codes of zipline run.
const (
	exitSuccess      = runtime.ExitCodeSuccess
	exitFailed       = runtime.ExitCodeFailed
	exitInvalidInput = runtime.ExitCodeInvalidInput
	exitCancelled    = runtime.ExitCodeCancelled
)

// Sink selections for --sink.
const (
	sinkAuto   = "auto"
	sinkPrompt = "prompt"
	sinkFile   = "file"
	sinkStore  = "store"
)

// publishTimeout bounds adapter delivery after the run has finished.
const publishTimeout = 30 * time.Second

// RunCommand returns the run command.
// This is the only command that writes an archive from the command line.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Fetch entries and stream them into a zip archive",
		Flags: append([]cli.Flag{
			ConfigFlag,
			// Entry flags
			&cli.StringSliceFlag{
				Name:    "entry",
				Aliases: []string{"e"},
				Usage:   "Entry as name=url (repeatable, kept in order)",
			},
			&cli.StringFlag{
				Name:    "manifest",
				Aliases: []string{"m"},
				Usage:   "Path to an entry manifest (YAML or JSON)",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Suggested archive file name",
				Value:   sink.DefaultName,
			},
			// Sink flags
			&cli.StringFlag{
				Name:  "sink",
				Usage: "Destination: auto, prompt, file or store",
				Value: sinkAuto,
			},
			&cli.StringFlag{
				Name:  "dir",
				Usage: "Directory for file and prompt destinations",
			},
			&cli.BoolFlag{
				Name:  "overwrite",
				Usage: "Replace an existing archive",
			},
			&cli.BoolFlag{
				Name:  "no-ledger",
				Usage: "Do not record the run in the store's run ledger",
			},
			// Run identity flags
			&cli.StringFlag{
				Name:  "run-id",
				Usage: "Run ID (default: generated KSUID)",
			},
			&cli.IntFlag{
				Name:  "attempt",
				Usage: "Attempt number (starts at 1)",
				Value: 1,
			},
			&cli.StringFlag{
				Name:  "parent-run-id",
				Usage: "Run this attempt replaces (required when --attempt > 1)",
			},
			// Output flags
			&cli.StringFlag{
				Name:  "report",
				Usage: "Write a JSON run report to a path, or - for stderr",
			},
			&cli.StringFlag{
				Name:  "events",
				Usage: "Write a msgpack event stream to a path",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "Suppress progress logs and the result summary",
			},
			&cli.BoolFlag{
				Name:  "tui",
				Usage: "Show a live progress view",
			},
			// Adapter flags
			&cli.StringFlag{
				Name:  "adapter",
				Usage: "Announce the finished archive: webhook or redis",
			},
			&cli.StringFlag{
				Name:  "adapter-url",
				Usage: "Webhook URL or redis:// URL",
			},
			&cli.StringFlag{
				Name:  "adapter-channel",
				Usage: "Redis channel (default " + redis.DefaultChannel + ")",
			},
			&cli.StringFlag{
				Name:  "adapter-stream",
				Usage: "Redis stream key to also append the event to",
			},
			&cli.DurationFlag{
				Name:  "adapter-timeout",
				Usage: "Per-attempt publish timeout",
				Value: webhook.DefaultTimeout,
			},
			&cli.IntFlag{
				Name:  "adapter-retries",
				Usage: "Publish retry attempts",
				Value: webhook.DefaultRetries,
			},
			&cli.StringSliceFlag{
				Name:  "adapter-header",
				Usage: "Webhook header as key=value (repeatable)",
			},
		}, append(storageFlags(), fetchFlags()...)...),
		Action: runAction,
	}
}

// adapterChoice holds resolved adapter configuration.
type adapterChoice struct {
	adapterType string
	url         string
	channel     string
	stream      string
	headers     map[string]string
	timeout     time.Duration
	retries     int
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	entries, suggested, err := resolveEntries(c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	runMeta, err := buildRunMeta(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid run identity: %v", err), exitInvalidInput)
	}

	quiet := c.Bool("quiet")
	useTUI := c.Bool("tui") && render.IsInteractive()
	var logOpts []log.Option
	if quiet || useTUI {
		logOpts = append(logOpts, log.Quiet())
	}
	logger := log.NewLogger(runMeta, logOpts...)
	defer func() { _ = logger.Sync() }()

	var ac *adapterChoice
	if adapterType := resolveString(c, "adapter", configVal(cfg, func(c *ziplineconfig.Config) string { return c.Adapter.Type })); adapterType != "" {
		ac, err = parseAdapterConfigWithPrecedence(c, cfg, adapterType)
		if err != nil {
			return cli.Exit(err.Error(), exitInvalidInput)
		}
	}

	fetcher, err := buildFetcher(c, cfg, logger)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	// Set up context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	target, err := buildStore(ctx, c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}
	sinkName := resolveString(c, "sink", configVal(cfg, func(c *ziplineconfig.Config) string { return c.Sink }))
	negotiator, backend, err := buildNegotiator(c, cfg, sinkName, runMeta.RunID, target, logger)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	collector := metrics.NewCollector(backend, runMeta.RunID)

	obs := &runObservers{logger: logger}
	if path := c.String("events"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return cli.Exit(fmt.Sprintf("cannot create events file: %v", err), exitInvalidInput)
		}
		defer func() { _ = f.Close() }()
		obs.events = ipc.NewEventWriter(f, runMeta)
	}
	if useTUI {
		total := len(entries)
		obs.start = func() *tui.ProgressView {
			return tui.StartProgress(ctx, tui.NewProgressModel(suggested, total, cancel))
		}
	}

	orchestrator, err := runtime.NewRunOrchestrator(&runtime.RunConfig{
		Entries:       entries,
		SuggestedName: suggested,
		RunMeta:       runMeta,
		Sinks:         negotiator,
		Fetcher:       fetcher,
		OnProgress:    obs.onProgress,
		OnStateChange: obs.onState,
		Collector:     collector,
		Logger:        logger,
	})
	if err != nil {
		if runtime.IsInvalidConfig(err) {
			return cli.Exit(err.Error(), exitInvalidInput)
		}
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	result, err := orchestrator.Execute(ctx)
	if err != nil {
		return fmt.Errorf("execution failed: %w", err)
	}
	obs.finish(result.Outcome)

	exitCode := runtime.ExitCodeFor(result.Outcome)
	report := runtime.BuildRunReport(result, collector.Snapshot(), exitCode)
	if path := c.String("report"); path != "" {
		if err := runtime.WriteRunReport(report, path); err != nil {
			logger.Warn("failed to write run report", map[string]any{"path": path, "error": err.Error()})
		}
	}

	if target != nil && !c.Bool("no-ledger") {
		recordRun(target, report, logger)
	}
	if ac != nil {
		publishEvent(ac, report, logger)
	}

	if !quiet {
		printRunResult(os.Stdout, os.Stderr, result)
	}

	if exitCode == exitSuccess {
		return nil
	}
	return cli.Exit("", exitCode)
}

// resolveEntries merges manifest entries, --entry flags and config entries.
// Manifest entries come first, then --entry flags in order. Config entries
// are used only when neither is given. It also returns the suggested name.
func resolveEntries(c *cli.Context, cfg *ziplineconfig.Config) ([]types.EntryRequest, string, error) {
	var entries []types.EntryRequest
	manifestOutput := ""

	if path := c.String("manifest"); path != "" {
		m, err := ziplineconfig.LoadManifest(path)
		if err != nil {
			return nil, "", err
		}
		entries = append(entries, m.Entries...)
		manifestOutput = m.Output
	}

	for _, raw := range c.StringSlice("entry") {
		e, err := types.ParseEntryFlag(raw)
		if err != nil {
			return nil, "", err
		}
		entries = append(entries, e)
	}

	if !c.IsSet("manifest") && !c.IsSet("entry") {
		entries = append(entries, configVal(cfg, func(c *ziplineconfig.Config) []types.EntryRequest { return c.Entries })...)
	}

	if err := types.ValidateEntries(entries); err != nil {
		return nil, "", fmt.Errorf("invalid entries: %w", err)
	}

	if manifestOutput == "" {
		manifestOutput = configVal(cfg, func(c *ziplineconfig.Config) string { return c.Output })
	}
	suggested := resolveString(c, "output", manifestOutput)
	if suggested == "" {
		suggested = sink.DefaultName
	}
	return entries, suggested, nil
}

func buildRunMeta(c *cli.Context) (*types.RunMeta, error) {
	runID := c.String("run-id")
	if runID == "" {
		runID = ksuid.New().String()
	}
	runMeta := &types.RunMeta{
		RunID:   runID,
		Attempt: c.Int("attempt"),
	}
	if parentRunID := c.String("parent-run-id"); parentRunID != "" {
		runMeta.ParentRunID = &parentRunID
	}
	if err := runMeta.Validate(); err != nil {
		return nil, err
	}
	return runMeta, nil
}

func buildFetcher(c *cli.Context, cfg *ziplineconfig.Config, logger *log.Logger) (*fetch.Fetcher, error) {
	var opts []fetch.Option

	if timeout := resolveDuration(c, "timeout", configVal(cfg, func(c *ziplineconfig.Config) time.Duration { return c.Fetch.Timeout.Duration })); timeout > 0 {
		opts = append(opts, fetch.WithTimeout(timeout))
	}
	if ua := resolveString(c, "user-agent", configVal(cfg, func(c *ziplineconfig.Config) string { return c.Fetch.UserAgent })); ua != "" {
		opts = append(opts, fetch.WithUserAgent(ua))
	}

	chunkSize := resolveInt(c, "chunk-size", configVal(cfg, func(c *ziplineconfig.Config) int { return c.Fetch.ChunkSize }))
	if chunkSize <= 0 {
		return nil, fmt.Errorf("invalid --chunk-size %d: must be > 0", chunkSize)
	}
	opts = append(opts, fetch.WithChunkSize(chunkSize))

	headers, err := parseKeyValues("header", c.StringSlice("header"),
		configVal(cfg, func(c *ziplineconfig.Config) map[string]string { return c.Fetch.Headers }))
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		opts = append(opts, fetch.WithHeader(k, v))
	}

	selector, err := buildProxySelector(c, cfg)
	if err != nil {
		return nil, err
	}
	if selector != nil {
		for _, w := range selector.Warnings() {
			logger.Warn(w, nil)
		}
		opts = append(opts, fetch.WithProxy(selector.ProxyFunc()))
	}

	return fetch.New(opts...), nil
}

// buildProxySelector builds the fetch proxy pool. --proxy flags replace the
// config endpoints. A nil selector means fetches go direct.
func buildProxySelector(c *cli.Context, cfg *ziplineconfig.Config) (*proxy.Selector, error) {
	raw := c.StringSlice("proxy")
	if len(raw) == 0 {
		raw = configVal(cfg, func(c *ziplineconfig.Config) []string { return c.Fetch.Proxy.Endpoints })
	}
	if len(raw) == 0 {
		return nil, nil
	}

	pool := types.ProxyPool{
		StickyTTL: resolveDuration(c, "proxy-sticky-ttl", configVal(cfg, func(c *ziplineconfig.Config) time.Duration { return c.Fetch.Proxy.StickyTTL.Duration })),
	}
	strategy, err := types.ParseProxyStrategy(resolveString(c, "proxy-strategy", configVal(cfg, func(c *ziplineconfig.Config) string { return c.Fetch.Proxy.Strategy })))
	if err != nil {
		return nil, err
	}
	pool.Strategy = strategy

	for _, r := range raw {
		ep, err := types.ParseProxyEndpoint(r)
		if err != nil {
			return nil, err
		}
		pool.Endpoints = append(pool.Endpoints, ep)
	}
	return proxy.NewSelector(pool)
}

// buildStoreConfig resolves storage settings. ok is false when no store is configured.
func buildStoreConfig(c *cli.Context, cfg *ziplineconfig.Config) (lode.StoreConfig, bool) {
	sc := lode.StoreConfig{
		Backend:      resolveString(c, "storage-backend", configVal(cfg, func(c *ziplineconfig.Config) string { return c.Storage.Backend })),
		Path:         resolveString(c, "storage-path", configVal(cfg, func(c *ziplineconfig.Config) string { return c.Storage.Path })),
		Region:       resolveString(c, "storage-region", configVal(cfg, func(c *ziplineconfig.Config) string { return c.Storage.Region })),
		Endpoint:     resolveString(c, "storage-endpoint", configVal(cfg, func(c *ziplineconfig.Config) string { return c.Storage.Endpoint })),
		UsePathStyle: resolveBool(c, "s3-path-style", configVal(cfg, func(c *ziplineconfig.Config) bool { return c.Storage.S3PathStyle })),
	}
	return sc, sc.Backend != "" || sc.Path != ""
}

// storeTarget is a configured Lode store: archives and the run ledger share it.
type storeTarget struct {
	factory lodeapi.StoreFactory
	backend string
}

// buildStore opens the configured store. A nil target means none is configured.
func buildStore(ctx context.Context, c *cli.Context, cfg *ziplineconfig.Config) (*storeTarget, error) {
	sc, ok := buildStoreConfig(c, cfg)
	if !ok {
		return nil, nil
	}
	factory, err := lode.NewStoreFactory(ctx, sc)
	if err != nil {
		return nil, fmt.Errorf("invalid storage config: %w", err)
	}
	return &storeTarget{factory: factory, backend: sc.Backend}, nil
}

// buildNegotiator assembles the sink strategies for --sink. auto tries the
// save-as prompt, then the store, then a plain file. It also returns the
// storage backend label for metrics.
func buildNegotiator(c *cli.Context, cfg *ziplineconfig.Config, name, runID string, target *storeTarget, logger *log.Logger) (*sink.Negotiator, string, error) {
	dir := resolveString(c, "dir", configVal(cfg, func(c *ziplineconfig.Config) string { return c.Dir }))
	overwrite := resolveBool(c, "overwrite", configVal(cfg, func(c *ziplineconfig.Config) bool { return c.Overwrite }))

	prompt := &sink.PromptStrategy{
		Prompter:    &tui.Prompter{},
		Interactive: render.IsInteractive(),
		Dir:         dir,
		Overwrite:   overwrite,
	}
	file := &sink.FileStrategy{Dir: dir, Overwrite: overwrite}

	store := &sink.StoreStrategy{RunID: runID}
	backend := "file"
	if target != nil {
		store.Factory = target.factory
		store.Backend = target.backend
		backend = target.backend
	}

	switch name {
	case sinkAuto, "":
		return sink.NewNegotiator(logger, prompt, store, file), backend, nil
	case sinkPrompt:
		return sink.NewNegotiator(logger, prompt), "file", nil
	case sinkFile:
		return sink.NewNegotiator(logger, file), "file", nil
	case sinkStore:
		if store.Factory == nil {
			return nil, "", errors.New("--sink=store requires --storage-backend and --storage-path")
		}
		return sink.NewNegotiator(logger, store), backend, nil
	default:
		return nil, "", fmt.Errorf("invalid --sink %q (must be auto, prompt, file or store)", name)
	}
}

// recordRun appends the run to the ledger in the configured store.
// Failures are logged and never change the run's exit code.
func recordRun(target *storeTarget, report *runtime.RunReport, logger *log.Logger) {
	ledger, err := lode.NewLedger(target.factory)
	if err != nil {
		logger.Warn("run ledger unavailable", map[string]any{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := ledger.Record(ctx, lode.NewRunRecord(runRecordFromReport(report), time.Now())); err != nil {
		logger.Warn("failed to record run in ledger", map[string]any{"error": err.Error()})
		return
	}
	logger.Debug("run recorded in ledger", map[string]any{"dataset": lode.LedgerDataset})
}

func runRecordFromReport(report *runtime.RunReport) lode.RunRecord {
	return lode.RunRecord{
		RunID:        report.RunID,
		ParentRunID:  report.ParentRunID,
		Attempt:      report.Attempt,
		Outcome:      string(report.Outcome),
		Message:      report.Message,
		Phase:        string(report.Phase),
		Entry:        report.Entry,
		Filename:     report.Filename,
		Location:     report.Location,
		SinkStrategy: report.SinkStrategy,
		EntryCount:   report.EntryCount,
		BytesWritten: report.BytesWritten,
		DurationMs:   report.DurationMs,
	}
}

// parseAdapterConfigWithPrecedence resolves adapter settings from flags,
// then config, then flag defaults.
func parseAdapterConfigWithPrecedence(c *cli.Context, cfg *ziplineconfig.Config, adapterType string) (*adapterChoice, error) {
	ac := &adapterChoice{
		adapterType: adapterType,
		url:         resolveString(c, "adapter-url", configVal(cfg, func(c *ziplineconfig.Config) string { return c.Adapter.URL })),
		channel:     resolveString(c, "adapter-channel", configVal(cfg, func(c *ziplineconfig.Config) string { return c.Adapter.Channel })),
		stream:      resolveString(c, "adapter-stream", configVal(cfg, func(c *ziplineconfig.Config) string { return c.Adapter.Stream })),
		timeout:     resolveDuration(c, "adapter-timeout", configVal(cfg, func(c *ziplineconfig.Config) time.Duration { return c.Adapter.Timeout.Duration })),
		retries:     c.Int("adapter-retries"),
	}
	if !c.IsSet("adapter-retries") && cfg != nil && cfg.Adapter.Retries != nil {
		ac.retries = *cfg.Adapter.Retries
	}
	if ac.retries < 0 {
		return nil, fmt.Errorf("invalid --adapter-retries %d: must be >= 0", ac.retries)
	}

	headers, err := parseKeyValues("adapter-header", c.StringSlice("adapter-header"),
		configVal(cfg, func(c *ziplineconfig.Config) map[string]string { return c.Adapter.Headers }))
	if err != nil {
		return nil, err
	}
	ac.headers = headers

	switch adapterType {
	case "webhook":
		if ac.url == "" {
			return nil, errors.New("--adapter-url is required when --adapter=webhook")
		}
	case "redis":
		if ac.url == "" {
			return nil, errors.New("--adapter-url is required when --adapter=redis")
		}
		if len(ac.headers) > 0 {
			return nil, errors.New("--adapter-header is only valid with --adapter=webhook")
		}
	default:
		return nil, fmt.Errorf("unknown adapter type %q (must be webhook or redis)", adapterType)
	}
	return ac, nil
}

func buildAdapter(ac *adapterChoice) (adapter.Adapter, error) {
	switch ac.adapterType {
	case "webhook":
		return webhook.New(webhook.Config{
			URL:     ac.url,
			Headers: ac.headers,
			Timeout: ac.timeout,
			Retries: ac.retries,
		})
	case "redis":
		return redis.New(redis.Config{
			URL:     ac.url,
			Channel: ac.channel,
			Stream:  ac.stream,
			Timeout: ac.timeout,
			Retries: ac.retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter type %q", ac.adapterType)
	}
}

// publishEvent announces the run. Failures are logged and never change the
// run's exit code.
func publishEvent(ac *adapterChoice, report *runtime.RunReport, logger *log.Logger) {
	a, err := buildAdapter(ac)
	if err != nil {
		logger.Warn("adapter setup failed", map[string]any{"adapter": ac.adapterType, "error": err.Error()})
		return
	}
	defer func() { _ = a.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	event := adapter.NewArchiveCompletedEvent(report, time.Now())
	if err := a.Publish(ctx, event); err != nil {
		logger.Warn("adapter publish failed", map[string]any{"adapter": ac.adapterType, "error": err.Error()})
		return
	}
	logger.Debug("adapter event published", map[string]any{"adapter": ac.adapterType})
}

// runObservers fans pipeline notifications out to the events stream and the
// progress view. The view starts once the archive is open so it never
// competes with the save-as prompt for the terminal.
type runObservers struct {
	logger *log.Logger
	events *ipc.EventWriter
	start  func() *tui.ProgressView

	mu   sync.Mutex
	view *tui.ProgressView
}

func (o *runObservers) onState(from, to runtime.State) {
	if from != runtime.StateSinkAcquired || to != runtime.StateArchiveOpen || o.start == nil {
		return
	}
	o.mu.Lock()
	o.view = o.start()
	o.mu.Unlock()
}

func (o *runObservers) onProgress(ev types.ProgressEvent) {
	if o.events != nil {
		if err := o.events.WriteProgress(ev); err != nil {
			o.logger.Debug("events stream write failed", map[string]any{"error": err.Error()})
		}
	}
	o.mu.Lock()
	view := o.view
	o.mu.Unlock()
	if view != nil {
		view.Observe(ev)
	}
}

func (o *runObservers) finish(outcome *types.RunOutcome) {
	if o.events != nil {
		_ = o.events.WriteOutcome(outcome)
		if err := o.events.Err(); err != nil {
			o.logger.Warn("events stream incomplete", map[string]any{"error": err.Error()})
		}
	}
	o.mu.Lock()
	view := o.view
	o.mu.Unlock()
	if view != nil {
		if err := view.Finish(outcome); err != nil {
			o.logger.Warn("progress view failed", map[string]any{"error": err.Error()})
		}
	}
}

// corruptingPhases are failures after archive bytes may have reached the sink.
var corruptingPhases = map[types.Phase]bool{
	types.PhaseEntryBegin:   true,
	types.PhaseEntryWrite:   true,
	types.PhaseEntryClose:   true,
	types.PhaseArchiveClose: true,
}

func printRunResult(stdout, stderr io.Writer, result *runtime.RunResult) {
	outcome := result.Outcome
	switch outcome.Status {
	case types.OutcomeSuccess:
		fmt.Fprintln(stdout, outcome.Message)
		fmt.Fprintf(stdout, "run_id=%s, entries=%d, size=%s, location=%s, duration=%s\n",
			result.RunMeta.RunID,
			len(result.Entries),
			humanize.Bytes(result.BytesWritten),
			result.Location,
			result.Duration.Round(time.Millisecond),
		)
	case types.OutcomeCancelled:
		fmt.Fprintf(stderr, "Cancelled: %s\n", outcome.Message)
	default:
		fmt.Fprintf(stderr, "Failed: %s\n", outcome.Message)
		if corruptingPhases[outcome.Phase] {
			where := result.Location
			if where == "" {
				where = "the output"
			}
			fmt.Fprintf(stderr, "Warning: %s is likely incomplete or corrupt\n", where)
		}
		fmt.Fprintf(stderr, "run_id=%s, attempt=%d, entries_written=%d\n",
			result.RunMeta.RunID, result.RunMeta.Attempt, len(result.Entries))
	}
}
