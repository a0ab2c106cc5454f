package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/segmentio/ksuid"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	ziplineconfig "github.com/pithecene-io/zipline/cli/config"
	"github.com/pithecene-io/zipline/log"
	"github.com/pithecene-io/zipline/metrics"
	"github.com/pithecene-io/zipline/runtime"
	"github.com/pithecene-io/zipline/sink"
	"github.com/pithecene-io/zipline/types"
)

const (
	defaultServeAddr       = ":8080"
	defaultShutdownTimeout = 10 * time.Second
	// maxManifestBytes caps POST /archives request bodies.
	maxManifestBytes = 1 << 20
)

// ServeCommand returns the serve command.
// Serve streams archives as HTTP downloads: POST /archives with a JSON
// manifest answers with the zip body.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve zip archives over HTTP",
		Flags: append([]cli.Flag{
			ConfigFlag,
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address",
				Value: defaultServeAddr,
			},
			&cli.DurationFlag{
				Name:  "shutdown-timeout",
				Usage: "Grace period for in-flight archives on shutdown",
				Value: defaultShutdownTimeout,
			},
		}, fetchFlags()...),
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	logger := log.NewLogger(nil)
	defer func() { _ = logger.Sync() }()

	fetcher, err := buildFetcher(c, cfg, logger)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	addr := resolveString(c, "addr", configVal(cfg, func(c *ziplineconfig.Config) string { return c.Serve.Addr }))
	shutdownTimeout := resolveDuration(c, "shutdown-timeout",
		configVal(cfg, func(c *ziplineconfig.Config) time.Duration { return c.Serve.ShutdownTimeout.Duration }))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := newArchiveServer(fetcher, logger)
	if err := runServer(ctx, addr, srv.handler(), shutdownTimeout, logger); err != nil {
		return cli.Exit(fmt.Sprintf("server failed: %v", err), exitFailed)
	}
	return nil
}

// runServer serves h until ctx is done, then shuts down gracefully.
func runServer(ctx context.Context, addr string, h http.Handler, shutdownTimeout time.Duration, logger *log.Logger) error {
	hs := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", map[string]any{"addr": addr})
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down", map[string]any{"timeout": shutdownTimeout.String()})
		return hs.Shutdown(sctx)
	})
	return g.Wait()
}

// archiveServer runs one pipeline per request, streaming into the response.
type archiveServer struct {
	fetcher  runtime.Fetcher
	logger   *log.Logger
	newRunID func() string
}

func newArchiveServer(fetcher runtime.Fetcher, logger *log.Logger) *archiveServer {
	return &archiveServer{
		fetcher:  fetcher,
		logger:   logger,
		newRunID: func() string { return ksuid.New().String() },
	}
}

func (s *archiveServer) handler() http.Handler {
	e := echo.New()
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Info("request", map[string]any{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency_ms": v.Latency.Milliseconds(),
			})
			return nil
		},
	}))

	e.GET("/healthz", s.handleHealth)
	e.POST("/archives", s.handleArchive)
	return e
}

func (s *archiveServer) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": types.Version,
	})
}

// recordingAcquirer remembers the acquisition so the handler can tell
// whether the response was already committed when the run failed.
type recordingAcquirer struct {
	inner runtime.SinkAcquirer
	acq   *sink.Acquisition
}

func (r *recordingAcquirer) Acquire(ctx context.Context, suggestedName string) (*sink.Acquisition, error) {
	acq, err := r.inner.Acquire(ctx, suggestedName)
	r.acq = acq
	return acq, err
}

func (r *recordingAcquirer) committed() bool {
	if r.acq == nil {
		return false
	}
	rs, ok := r.acq.Sink.(*sink.ResponseSink)
	return ok && rs.Committed()
}

func (s *archiveServer) handleArchive(c *echo.Context) error {
	req := c.Request()
	body := http.MaxBytesReader(c.Response(), req.Body, maxManifestBytes)

	var m ziplineconfig.Manifest
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid manifest: "+err.Error())
	}
	if err := types.ValidateEntries(m.Entries); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	name := m.Output
	if q := c.QueryParam("name"); q != "" {
		name = q
	}
	if name == "" {
		name = sink.DefaultName
	}

	runMeta := &types.RunMeta{RunID: s.newRunID(), Attempt: 1}
	logger := s.logger.With(map[string]any{"run_id": runMeta.RunID})
	acquirer := &recordingAcquirer{
		inner: sink.NewNegotiator(logger, &sink.ResponseStrategy{W: c.Response()}),
	}

	orchestrator, err := runtime.NewRunOrchestrator(&runtime.RunConfig{
		Entries:       m.Entries,
		SuggestedName: name,
		RunMeta:       runMeta,
		Sinks:         acquirer,
		Fetcher:       s.fetcher,
		Collector:     metrics.NewCollector("response", runMeta.RunID),
		Logger:        logger,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := orchestrator.Execute(req.Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	if result.Outcome.Status == types.OutcomeFailed && acquirer.committed() {
		// The status line is gone; cut the connection so the client sees
		// a truncated transfer instead of a clean end of body.
		panic(http.ErrAbortHandler)
	}
	return nil
}
