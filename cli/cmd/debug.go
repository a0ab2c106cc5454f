package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/zipline/cli/render"
	"github.com/pithecene-io/zipline/cli/tui"
	"github.com/pithecene-io/zipline/ipc"
	"github.com/pithecene-io/zipline/lode"
	"github.com/pithecene-io/zipline/runtime"
	"github.com/pithecene-io/zipline/types"
)

// DebugCommand returns the debug command with subcommands.
// Debug commands are read-only diagnostic tools over run artifacts.
func DebugCommand() *cli.Command {
	return &cli.Command{
		Name:  "debug",
		Usage: "Diagnostic tools (events, report, runs)",
		Subcommands: []*cli.Command{
			debugEventsCommand(),
			debugReportCommand(),
			debugRunsCommand(),
		},
	}
}

// EventRow is one decoded frame of an events stream.
type EventRow struct {
	Seq     int64  `json:"seq"`
	Type    string `json:"type"`
	Ts      string `json:"ts"`
	Entry   string `json:"entry,omitempty"`
	Index   int    `json:"index"`
	Bytes   uint64 `json:"bytes" render:"bytes"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func debugEventsCommand() *cli.Command {
	return &cli.Command{
		Name:      "events",
		Usage:     "Decode an events stream written by zipline run --events",
		ArgsUsage: "<events-file>",
		Flags:     ReadOnlyFlags(),
		Action:    debugEventsAction,
	}
}

func debugEventsAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("events file required", exitInvalidInput)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	// TUI not supported for debug events
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for debug events", exitInvalidInput)
	}

	f, err := os.Open(c.Args().First())
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot open events file: %v", err), exitFailed)
	}
	defer f.Close()

	rows, streamErr := decodeEventRows(f)
	if err := r.Render(rows); err != nil {
		return err
	}
	if streamErr != nil {
		return cli.Exit(fmt.Sprintf("events stream truncated: %v", streamErr), exitFailed)
	}
	return nil
}

// decodeEventRows reads frames until EOF. Undecodable payloads become rows
// with Error set; a fatal framing error stops the read and is returned.
func decodeEventRows(r io.Reader) ([]EventRow, error) {
	dec := ipc.NewFrameDecoder(r)
	rows := []EventRow{}
	for {
		env, err := dec.ReadEvent()
		// A partial frame wraps io.EOF too; only a bare EOF is a clean end.
		if err == io.EOF { //nolint:errorlint
			return rows, nil
		}
		if err != nil {
			if ipc.IsFatalFrameError(err) {
				return rows, err
			}
			rows = append(rows, EventRow{Error: err.Error()})
			continue
		}
		rows = append(rows, eventRow(env))
	}
}

func eventRow(env *types.EventEnvelope) EventRow {
	row := EventRow{
		Seq:  env.Seq,
		Type: string(env.Type),
		Ts:   env.Ts,
	}
	switch {
	case env.Progress != nil:
		row.Entry = env.Progress.Name
		row.Index = env.Progress.Index
		row.Bytes = env.Progress.Bytes
	case env.Outcome != nil:
		row.Entry = env.Outcome.Entry
		row.Status = string(env.Outcome.Status)
		row.Message = env.Outcome.Message
	}
	return row
}

func debugReportCommand() *cli.Command {
	return &cli.Command{
		Name:      "report",
		Usage:     "Show a run report written by zipline run --report",
		ArgsUsage: "<report.json>",
		Flags:     TUIReadOnlyFlags(),
		Action:    debugReportAction,
	}
}

func debugReportAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("report file required", exitInvalidInput)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}

	report, err := readRunReport(c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), exitFailed)
	}

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewReport, report)
	}
	return r.Render(report)
}

func readRunReport(path string) (*runtime.RunReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read report: %w", err)
	}
	var report runtime.RunReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("invalid report %s: %w", path, err)
	}
	return &report, nil
}

func debugRunsCommand() *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "List runs recorded in a store's run ledger",
		Flags: append(append([]cli.Flag{
			ConfigFlag,
			&cli.StringFlag{
				Name:  "run-id",
				Usage: "Only this run",
			},
			&cli.StringFlag{
				Name:  "day",
				Usage: "Only runs completed on this day (YYYY-MM-DD, UTC)",
			},
			&cli.StringFlag{
				Name:  "outcome",
				Usage: "Only runs with this outcome: success, failed or cancelled",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum runs to list, newest first (0 for all)",
				Value: 20,
			},
		}, storageFlags()...), ReadOnlyFlags()...),
		Action: debugRunsAction,
	}
}

func debugRunsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for debug runs", exitInvalidInput)
	}

	q := lode.LedgerQuery{
		RunID:   c.String("run-id"),
		Day:     c.String("day"),
		Outcome: c.String("outcome"),
		Limit:   c.Int("limit"),
	}
	if q.Limit < 0 {
		return cli.Exit(fmt.Sprintf("invalid --limit %d: must be >= 0", q.Limit), exitInvalidInput)
	}
	if q.Outcome != "" {
		switch types.OutcomeStatus(q.Outcome) {
		case types.OutcomeSuccess, types.OutcomeFailed, types.OutcomeCancelled:
		default:
			return cli.Exit(fmt.Sprintf("invalid --outcome %q (must be success, failed or cancelled)", q.Outcome), exitInvalidInput)
		}
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}
	target, err := buildStore(c.Context, c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}
	if target == nil {
		return cli.Exit("--storage-backend and --storage-path are required", exitInvalidInput)
	}

	ledger, err := lode.NewLedger(target.factory)
	if err != nil {
		return cli.Exit(err.Error(), exitFailed)
	}
	runs, err := ledger.Query(c.Context, q)
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot read run ledger: %v", err), exitFailed)
	}
	return r.Render(runs)
}
