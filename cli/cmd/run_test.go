package cmd

import (
	"encoding/json"
	"errors"
	"flag"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/zipline/adapter"
	"github.com/pithecene-io/zipline/archive"
	ziplineconfig "github.com/pithecene-io/zipline/cli/config"
	"github.com/pithecene-io/zipline/lode"
	"github.com/pithecene-io/zipline/runtime"
	"github.com/pithecene-io/zipline/sink"
	"github.com/pithecene-io/zipline/types"
)

// newTestCLIContext builds a context with string flags. Only flagValues are
// marked as explicitly set (c.IsSet returns true).
func newTestCLIContext(t *testing.T, flagValues map[string]string, defaultFlags map[string]string) *cli.Context {
	t.Helper()
	app := cli.NewApp()

	allFlags := make(map[string]string)
	for k, v := range defaultFlags {
		allFlags[k] = v
	}
	for k, v := range flagValues {
		allFlags[k] = v
	}

	var cliFlags []cli.Flag
	for name, val := range allFlags {
		cliFlags = append(cliFlags, &cli.StringFlag{Name: name, Value: val})
	}
	app.Flags = cliFlags

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	for name, val := range allFlags {
		fs.String(name, val, "")
	}
	for name, val := range flagValues {
		if err := fs.Set(name, val); err != nil {
			t.Fatalf("failed to set flag %s: %v", name, err)
		}
	}

	return cli.NewContext(app, fs, nil)
}

func TestResolveString_CLIWins(t *testing.T) {
	c := newTestCLIContext(t, map[string]string{"sink": "file"}, nil)
	got := resolveString(c, "sink", "store")
	if got != "file" {
		t.Errorf("expected CLI to win, got %q", got)
	}
}

func TestResolveString_ConfigFallback(t *testing.T) {
	c := newTestCLIContext(t, nil, map[string]string{"sink": "auto"})
	got := resolveString(c, "sink", "store")
	if got != "store" {
		t.Errorf("expected config fallback, got %q", got)
	}
}

func TestResolveString_UrfaveDefault(t *testing.T) {
	c := newTestCLIContext(t, nil, map[string]string{"output": "files.zip"})
	got := resolveString(c, "output", "")
	if got != "files.zip" {
		t.Errorf("expected urfave default, got %q", got)
	}
}

func TestConfigVal_NilConfig(t *testing.T) {
	got := configVal(nil, func(c *ziplineconfig.Config) string { return c.Sink })
	if got != "" {
		t.Errorf("expected empty for nil config, got %q", got)
	}
}

func TestConfigVal_NonNil(t *testing.T) {
	cfg := &ziplineconfig.Config{Sink: "store"}
	got := configVal(cfg, func(c *ziplineconfig.Config) string { return c.Sink })
	if got != "store" {
		t.Errorf("expected store, got %q", got)
	}
}

func TestResolveInt_CLIWins(t *testing.T) {
	app := cli.NewApp()
	app.Flags = []cli.Flag{&cli.IntFlag{Name: "chunk-size"}}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Int("chunk-size", 0, "")
	_ = fs.Set("chunk-size", "500")
	c := cli.NewContext(app, fs, nil)

	got := resolveInt(c, "chunk-size", 1000)
	if got != 500 {
		t.Errorf("expected CLI to win with 500, got %d", got)
	}
}

func TestResolveInt_ConfigFallback(t *testing.T) {
	app := cli.NewApp()
	app.Flags = []cli.Flag{&cli.IntFlag{Name: "chunk-size"}}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Int("chunk-size", 0, "")
	c := cli.NewContext(app, fs, nil)

	got := resolveInt(c, "chunk-size", 1000)
	if got != 1000 {
		t.Errorf("expected config fallback 1000, got %d", got)
	}
}

func TestResolveBool_CLIWins(t *testing.T) {
	app := cli.NewApp()
	app.Flags = []cli.Flag{&cli.BoolFlag{Name: "s3-path-style"}}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Bool("s3-path-style", false, "")
	_ = fs.Set("s3-path-style", "true")
	c := cli.NewContext(app, fs, nil)

	got := resolveBool(c, "s3-path-style", false)
	if !got {
		t.Error("expected CLI true to win")
	}
}

func TestResolveBool_ExplicitFalseWins(t *testing.T) {
	app := cli.NewApp()
	app.Flags = []cli.Flag{&cli.BoolFlag{Name: "overwrite"}}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Bool("overwrite", false, "")
	_ = fs.Set("overwrite", "false")
	c := cli.NewContext(app, fs, nil)

	if resolveBool(c, "overwrite", true) {
		t.Error("expected explicit --overwrite=false to win over config")
	}
}

func TestResolveDuration_CLIWins(t *testing.T) {
	app := cli.NewApp()
	app.Flags = []cli.Flag{&cli.DurationFlag{Name: "timeout"}}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Duration("timeout", 0, "")
	_ = fs.Set("timeout", "30s")
	c := cli.NewContext(app, fs, nil)

	got := resolveDuration(c, "timeout", 10*time.Second)
	if got != 30*time.Second {
		t.Errorf("expected CLI 30s to win, got %v", got)
	}
}

func TestResolveDuration_ConfigFallback(t *testing.T) {
	app := cli.NewApp()
	app.Flags = []cli.Flag{&cli.DurationFlag{Name: "timeout"}}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Duration("timeout", 0, "")
	c := cli.NewContext(app, fs, nil)

	got := resolveDuration(c, "timeout", 10*time.Second)
	if got != 10*time.Second {
		t.Errorf("expected config fallback 10s, got %v", got)
	}
}

func TestParseKeyValues(t *testing.T) {
	tests := []struct {
		name    string
		values  []string
		base    map[string]string
		want    map[string]string
		wantErr string
	}{
		{name: "empty", want: nil},
		{
			name:   "flags only",
			values: []string{"Authorization=Bearer x", "X-Trace = 1"},
			want:   map[string]string{"Authorization": "Bearer x", "X-Trace": "1"},
		},
		{
			name:   "flag overrides base",
			values: []string{"A=flag"},
			base:   map[string]string{"A": "config", "B": "config"},
			want:   map[string]string{"A": "flag", "B": "config"},
		},
		{
			name:   "value may contain equals",
			values: []string{"Cookie=a=b"},
			want:   map[string]string{"Cookie": "a=b"},
		},
		{name: "missing equals", values: []string{"no-equals-sign"}, wantErr: "invalid --header"},
		{name: "empty key", values: []string{"=v"}, wantErr: "expected key=value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseKeyValues("header", tt.values, tt.base)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func newAdapterTestContext(t *testing.T, flags map[string]string) *cli.Context {
	t.Helper()
	app := cli.NewApp()
	app.Flags = []cli.Flag{
		&cli.StringFlag{Name: "adapter-url"},
		&cli.StringFlag{Name: "adapter-channel"},
		&cli.StringFlag{Name: "adapter-stream"},
		&cli.DurationFlag{Name: "adapter-timeout", Value: 10 * time.Second},
		&cli.IntFlag{Name: "adapter-retries", Value: 3},
		&cli.StringSliceFlag{Name: "adapter-header"},
	}

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.String("adapter-url", "", "")
	fs.String("adapter-channel", "", "")
	fs.String("adapter-stream", "", "")
	fs.Duration("adapter-timeout", 10*time.Second, "")
	fs.Int("adapter-retries", 3, "")

	for name, val := range flags {
		if err := fs.Set(name, val); err != nil {
			t.Fatalf("failed to set flag %s: %v", name, err)
		}
	}

	return cli.NewContext(app, fs, nil)
}

func TestParseAdapterConfig_WebhookValid(t *testing.T) {
	c := newAdapterTestContext(t, map[string]string{
		"adapter-url": "https://hooks.example.com/zipline",
	})

	ac, err := parseAdapterConfigWithPrecedence(c, nil, "webhook")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ac.adapterType != "webhook" {
		t.Errorf("adapterType = %q, want %q", ac.adapterType, "webhook")
	}
	if ac.url != "https://hooks.example.com/zipline" {
		t.Errorf("url = %q, want %q", ac.url, "https://hooks.example.com/zipline")
	}
	if ac.retries != 3 {
		t.Errorf("retries = %d, want flag default 3", ac.retries)
	}
}

func TestParseAdapterConfig_WebhookMissingURL(t *testing.T) {
	c := newAdapterTestContext(t, nil)

	_, err := parseAdapterConfigWithPrecedence(c, nil, "webhook")
	if err == nil {
		t.Fatal("expected error for missing URL")
	}
	if !strings.Contains(err.Error(), "--adapter-url is required") {
		t.Errorf("error should mention --adapter-url, got: %v", err)
	}
}

func TestParseAdapterConfig_RedisValid(t *testing.T) {
	c := newAdapterTestContext(t, map[string]string{
		"adapter-url":     "redis://localhost:6379",
		"adapter-channel": "my-channel",
		"adapter-stream":  "archives",
	})

	ac, err := parseAdapterConfigWithPrecedence(c, nil, "redis")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ac.channel != "my-channel" {
		t.Errorf("channel = %q, want %q", ac.channel, "my-channel")
	}
	if ac.stream != "archives" {
		t.Errorf("stream = %q, want %q", ac.stream, "archives")
	}
}

func TestParseAdapterConfig_RedisMissingURL(t *testing.T) {
	c := newAdapterTestContext(t, nil)

	_, err := parseAdapterConfigWithPrecedence(c, nil, "redis")
	if err == nil {
		t.Fatal("expected error for missing URL")
	}
	if !strings.Contains(err.Error(), "--adapter-url is required when --adapter=redis") {
		t.Errorf("error should mention redis URL requirement, got: %v", err)
	}
}

func TestParseAdapterConfig_RedisRejectsHeaders(t *testing.T) {
	c := newAdapterTestContext(t, map[string]string{"adapter-url": "redis://localhost:6379"})
	cfg := &ziplineconfig.Config{
		Adapter: ziplineconfig.AdapterConfig{Headers: map[string]string{"X-A": "1"}},
	}

	_, err := parseAdapterConfigWithPrecedence(c, cfg, "redis")
	if err == nil || !strings.Contains(err.Error(), "only valid with --adapter=webhook") {
		t.Fatalf("expected header rejection, got %v", err)
	}
}

func TestParseAdapterConfig_UnknownType(t *testing.T) {
	c := newAdapterTestContext(t, map[string]string{
		"adapter-url": "https://example.com",
	})

	_, err := parseAdapterConfigWithPrecedence(c, nil, "kafka")
	if err == nil {
		t.Fatal("expected error for unknown adapter type")
	}
	if !strings.Contains(err.Error(), "unknown adapter type") {
		t.Errorf("error should mention unknown type, got: %v", err)
	}
	if !strings.Contains(err.Error(), "kafka") {
		t.Errorf("error should include the bad type name, got: %v", err)
	}
}

func TestParseAdapterConfig_ConfigProvidesValues(t *testing.T) {
	c := newAdapterTestContext(t, nil)
	retries := 7
	cfg := &ziplineconfig.Config{
		Adapter: ziplineconfig.AdapterConfig{
			URL:     "https://from-config.example.com",
			Timeout: ziplineconfig.Duration{Duration: 2 * time.Second},
			Retries: &retries,
			Headers: map[string]string{"X-Token": "abc"},
		},
	}

	ac, err := parseAdapterConfigWithPrecedence(c, cfg, "webhook")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ac.url != "https://from-config.example.com" {
		t.Errorf("url = %q, want config value", ac.url)
	}
	if ac.timeout != 2*time.Second {
		t.Errorf("timeout = %v, want 2s", ac.timeout)
	}
	if ac.retries != 7 {
		t.Errorf("retries = %d, want 7", ac.retries)
	}
	if ac.headers["X-Token"] != "abc" {
		t.Errorf("headers = %v, want X-Token from config", ac.headers)
	}
}

func TestParseAdapterConfig_CLIRetriesOverrideConfig(t *testing.T) {
	c := newAdapterTestContext(t, map[string]string{
		"adapter-url":     "https://example.com",
		"adapter-retries": "0",
	})
	retries := 7
	cfg := &ziplineconfig.Config{Adapter: ziplineconfig.AdapterConfig{Retries: &retries}}

	ac, err := parseAdapterConfigWithPrecedence(c, cfg, "webhook")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ac.retries != 0 {
		t.Errorf("retries = %d, want explicit 0", ac.retries)
	}
}

func TestExitCodeConstants(t *testing.T) {
	tests := []struct {
		name string
		got  int
		want int
	}{
		{"success", exitSuccess, 0},
		{"failed", exitFailed, 1},
		{"invalid input", exitInvalidInput, 3},
		{"cancelled", exitCancelled, 4},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s exit code = %d, want %d", tt.name, tt.got, tt.want)
		}
	}
}

// newTestApp creates a cli.App with the commands wired up and ExitErrHandler
// suppressed so errors are returned instead of calling os.Exit.
func newTestApp() *cli.App {
	app := cli.NewApp()
	app.Commands = []*cli.Command{RunCommand(), VerifyCommand(), DebugCommand()}
	app.ExitErrHandler = func(*cli.Context, error) {} // suppress os.Exit
	return app
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return exitSuccess
	}
	var ec cli.ExitCoder
	if !errors.As(err, &ec) {
		t.Fatalf("error %v is not an exit coder", err)
	}
	return ec.ExitCode()
}

// newOrigin serves files by path; unknown paths answer 404.
func newOrigin(t *testing.T, files map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readReport(t *testing.T, path string) *runtime.RunReport {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var report runtime.RunReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	return &report
}

func TestRunAction_FileSink(t *testing.T) {
	origin := newOrigin(t, map[string]string{"/a": "alpha", "/b": "bravo bravo"})
	dir := t.TempDir()
	reportPath := filepath.Join(t.TempDir(), "report.json")

	err := newTestApp().Run([]string{"zipline", "run",
		"--sink", "file",
		"--dir", dir,
		"--output", "out.zip",
		"--run-id", "run-file",
		"--entry", "a.txt=" + origin.URL + "/a",
		"--entry", "docs/b.txt=" + origin.URL + "/b",
		"--report", reportPath,
		"--quiet",
	})
	if code := exitCode(t, err); code != exitSuccess {
		t.Fatalf("exit code = %d, want 0 (err=%v)", code, err)
	}

	vr, err := archive.VerifyFile(filepath.Join(dir, "out.zip"))
	if err != nil {
		t.Fatalf("VerifyFile() error = %v", err)
	}
	if !vr.Valid || len(vr.Entries) != 2 {
		t.Fatalf("archive valid=%v entries=%d, want valid with 2 entries", vr.Valid, len(vr.Entries))
	}
	if vr.Entries[0].Name != "a.txt" || vr.Entries[1].Name != "docs/b.txt" {
		t.Errorf("entry order = %s, %s", vr.Entries[0].Name, vr.Entries[1].Name)
	}

	report := readReport(t, reportPath)
	if report.Outcome != types.OutcomeSuccess {
		t.Errorf("report outcome = %s, want success", report.Outcome)
	}
	if report.RunID != "run-file" {
		t.Errorf("report run_id = %q, want run-file", report.RunID)
	}
	if report.Message != "Written to out.zip!" {
		t.Errorf("report message = %q", report.Message)
	}
	if report.SinkStrategy != "file" {
		t.Errorf("report sink_strategy = %q, want file", report.SinkStrategy)
	}
}

func TestRunAction_GeneratedRunID(t *testing.T) {
	origin := newOrigin(t, map[string]string{"/a": "alpha"})
	dir := t.TempDir()
	reportPath := filepath.Join(t.TempDir(), "report.json")

	err := newTestApp().Run([]string{"zipline", "run",
		"--sink", "file", "--dir", dir,
		"--entry", "a.txt=" + origin.URL + "/a",
		"--report", reportPath,
		"--quiet",
	})
	if code := exitCode(t, err); code != exitSuccess {
		t.Fatalf("exit code = %d, want 0 (err=%v)", code, err)
	}

	report := readReport(t, reportPath)
	if len(report.RunID) != 27 {
		t.Errorf("run_id = %q, want a 27-character KSUID", report.RunID)
	}
	if _, err := os.Stat(filepath.Join(dir, sink.DefaultName)); err != nil {
		t.Errorf("default archive name not used: %v", err)
	}
}

func TestRunAction_FetchFailure(t *testing.T) {
	origin := newOrigin(t, map[string]string{"/a": "alpha"})
	dir := t.TempDir()
	reportPath := filepath.Join(t.TempDir(), "report.json")

	err := newTestApp().Run([]string{"zipline", "run",
		"--sink", "file", "--dir", dir,
		"--run-id", "run-fail",
		"--entry", "a.txt=" + origin.URL + "/a",
		"--entry", "missing.txt=" + origin.URL + "/missing",
		"--report", reportPath,
		"--quiet",
	})
	if code := exitCode(t, err); code != exitFailed {
		t.Fatalf("exit code = %d, want %d", code, exitFailed)
	}

	if _, err := os.Stat(filepath.Join(dir, sink.DefaultName)); !os.IsNotExist(err) {
		t.Errorf("final archive should not exist after failure, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, sink.DefaultName+sink.PartSuffix)); err != nil {
		t.Errorf("partial archive should remain: %v", err)
	}

	report := readReport(t, reportPath)
	if report.Outcome != types.OutcomeFailed {
		t.Errorf("outcome = %s, want failed", report.Outcome)
	}
	if report.Phase != types.PhaseFetch || report.Entry != "missing.txt" {
		t.Errorf("phase/entry = %s/%s, want fetch/missing.txt", report.Phase, report.Entry)
	}
	if report.EntryCount != 1 {
		t.Errorf("entry_count = %d, want 1", report.EntryCount)
	}
}

func TestRunAction_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad entry flag", []string{"--entry", "no-url"}},
		{"relative url", []string{"--entry", "a.txt=/a"}},
		{"duplicate names", []string{"--entry", "a=https://x.test/1", "--entry", "a=https://x.test/2"}},
		{"unknown sink", []string{"--sink", "ftp"}},
		{"store without storage", []string{"--sink", "store"}},
		{"bad storage backend", []string{"--sink", "store", "--storage-backend", "gcs", "--storage-path", "x"}},
		{"attempt without parent", []string{"--attempt", "2"}},
		{"zero chunk size", []string{"--chunk-size", "0"}},
		{"missing config", []string{"--config", "/nonexistent/zipline.yaml"}},
		{"missing manifest", []string{"--manifest", "/nonexistent/manifest.yaml"}},
		{"bad adapter", []string{"--adapter", "kafka", "--adapter-url", "x"}},
		{"bad proxy", []string{"--proxy", "ftp://proxy.example.com:21"}},
		{"bad proxy strategy", []string{"--proxy", "http://proxy.example.com:3128", "--proxy-strategy", "weighted"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"zipline", "run", "--quiet", "--sink", "file", "--dir", t.TempDir()}, tt.args...)
			err := newTestApp().Run(args)
			if code := exitCode(t, err); code != exitInvalidInput {
				t.Errorf("exit code = %d, want %d (err=%v)", code, exitInvalidInput, err)
			}
		})
	}
}

func TestRunAction_ManifestAndConfig(t *testing.T) {
	origin := newOrigin(t, map[string]string{"/a": "alpha", "/b": "bravo", "/c": "charlie"})
	dir := t.TempDir()

	manifest := filepath.Join(t.TempDir(), "manifest.json")
	m := `{"output": "bundle.zip", "entries": [{"name": "a.txt", "url": "` + origin.URL + `/a"}]}`
	if err := os.WriteFile(manifest, []byte(m), 0o644); err != nil {
		t.Fatal(err)
	}

	configPath := filepath.Join(t.TempDir(), "zipline.yaml")
	cfg := "sink: file\ndir: " + dir + "\nentries:\n  - name: ignored.txt\n    url: " + origin.URL + "/c\n"
	if err := os.WriteFile(configPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	err := newTestApp().Run([]string{"zipline", "run",
		"--config", configPath,
		"--manifest", manifest,
		"--entry", "b.txt=" + origin.URL + "/b",
		"--quiet",
	})
	if code := exitCode(t, err); code != exitSuccess {
		t.Fatalf("exit code = %d, want 0 (err=%v)", code, err)
	}

	vr, err := archive.VerifyFile(filepath.Join(dir, "bundle.zip"))
	if err != nil {
		t.Fatalf("VerifyFile() error = %v", err)
	}
	var names []string
	for _, e := range vr.Entries {
		names = append(names, e.Name)
	}
	if strings.Join(names, ",") != "a.txt,b.txt" {
		t.Errorf("entries = %v, want manifest then flag entries", names)
	}
}

func TestRunAction_ConfigEntries(t *testing.T) {
	origin := newOrigin(t, map[string]string{"/c": "charlie"})
	dir := t.TempDir()

	configPath := filepath.Join(t.TempDir(), "zipline.yaml")
	cfg := "output: from-config.zip\nsink: file\ndir: " + dir + "\nentries:\n  - name: c.txt\n    url: " + origin.URL + "/c\n"
	if err := os.WriteFile(configPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	err := newTestApp().Run([]string{"zipline", "run", "--config", configPath, "--quiet"})
	if code := exitCode(t, err); code != exitSuccess {
		t.Fatalf("exit code = %d, want 0 (err=%v)", code, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "from-config.zip")); err != nil {
		t.Errorf("config output name not used: %v", err)
	}
}

func TestRunAction_StoreSink(t *testing.T) {
	origin := newOrigin(t, map[string]string{"/a": "alpha"})
	root := t.TempDir()

	err := newTestApp().Run([]string{"zipline", "run",
		"--sink", "store",
		"--storage-backend", "fs",
		"--storage-path", root,
		"--run-id", "run-store",
		"--entry", "a.txt=" + origin.URL + "/a",
		"--quiet",
	})
	if code := exitCode(t, err); code != exitSuccess {
		t.Fatalf("exit code = %d, want 0 (err=%v)", code, err)
	}

	matches, err := filepath.Glob(filepath.Join(root, "archives", "day=*", "run_id=run-store", sink.DefaultName))
	if err != nil || len(matches) != 1 {
		t.Fatalf("stored archive not found: matches=%v err=%v", matches, err)
	}
	vr, err := archive.VerifyFile(matches[0])
	if err != nil || !vr.Valid {
		t.Fatalf("stored archive invalid: %v", err)
	}

	runs := queryLedger(t, root, lode.LedgerQuery{RunID: "run-store"})
	if len(runs) != 1 {
		t.Fatalf("ledger has %d records for run-store, want 1", len(runs))
	}
	got := runs[0]
	if got.Outcome != string(types.OutcomeSuccess) {
		t.Errorf("Outcome = %q, want success", got.Outcome)
	}
	if got.SinkStrategy != "store" {
		t.Errorf("SinkStrategy = %q, want store", got.SinkStrategy)
	}
	if got.EntryCount != 1 {
		t.Errorf("EntryCount = %d, want 1", got.EntryCount)
	}
	if got.Day == "" || got.CompletedAt == "" {
		t.Errorf("record not stamped: day=%q completed_at=%q", got.Day, got.CompletedAt)
	}
}

func TestRunAction_NoLedger(t *testing.T) {
	origin := newOrigin(t, map[string]string{"/a": "alpha"})
	root := t.TempDir()

	err := newTestApp().Run([]string{"zipline", "run",
		"--sink", "store",
		"--storage-backend", "fs",
		"--storage-path", root,
		"--run-id", "run-unrecorded",
		"--no-ledger",
		"--entry", "a.txt=" + origin.URL + "/a",
		"--quiet",
	})
	if code := exitCode(t, err); code != exitSuccess {
		t.Fatalf("exit code = %d, want 0 (err=%v)", code, err)
	}

	if runs := queryLedger(t, root, lode.LedgerQuery{}); len(runs) != 0 {
		t.Errorf("ledger has %d records, want 0", len(runs))
	}
}

func TestRunAction_FailedRunIsRecorded(t *testing.T) {
	origin := newOrigin(t, map[string]string{"/a": "alpha"})
	root := t.TempDir()

	err := newTestApp().Run([]string{"zipline", "run",
		"--sink", "store",
		"--storage-backend", "fs",
		"--storage-path", root,
		"--run-id", "run-broken",
		"--entry", "a.txt=" + origin.URL + "/a",
		"--entry", "gone.txt=" + origin.URL + "/gone",
		"--quiet",
	})
	if code := exitCode(t, err); code != exitFailed {
		t.Fatalf("exit code = %d, want %d", code, exitFailed)
	}

	runs := queryLedger(t, root, lode.LedgerQuery{Outcome: string(types.OutcomeFailed)})
	if len(runs) != 1 {
		t.Fatalf("ledger has %d failed records, want 1", len(runs))
	}
	if runs[0].RunID != "run-broken" {
		t.Errorf("RunID = %q, want run-broken", runs[0].RunID)
	}
	if runs[0].Entry != "gone.txt" {
		t.Errorf("Entry = %q, want gone.txt", runs[0].Entry)
	}
	if runs[0].Phase != string(types.PhaseFetch) {
		t.Errorf("Phase = %q, want %q", runs[0].Phase, types.PhaseFetch)
	}
}

// queryLedger reads the run ledger of an fs store rooted at root.
func queryLedger(t *testing.T, root string, q lode.LedgerQuery) []lode.RunRecord {
	t.Helper()
	factory, err := lode.NewStoreFactory(t.Context(), lode.StoreConfig{Backend: lode.BackendFS, Path: root})
	if err != nil {
		t.Fatalf("NewStoreFactory failed: %v", err)
	}
	ledger, err := lode.NewLedger(factory)
	if err != nil {
		t.Fatalf("NewLedger failed: %v", err)
	}
	runs, err := ledger.Query(t.Context(), q)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	return runs
}

func TestRunAction_EventsStream(t *testing.T) {
	origin := newOrigin(t, map[string]string{"/a": "alpha", "/b": "bravo"})
	eventsPath := filepath.Join(t.TempDir(), "events.bin")

	err := newTestApp().Run([]string{"zipline", "run",
		"--sink", "file", "--dir", t.TempDir(),
		"--run-id", "run-events",
		"--entry", "a.txt=" + origin.URL + "/a",
		"--entry", "b.txt=" + origin.URL + "/b",
		"--events", eventsPath,
		"--quiet",
	})
	if code := exitCode(t, err); code != exitSuccess {
		t.Fatalf("exit code = %d, want 0 (err=%v)", code, err)
	}

	f, err := os.Open(eventsPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	rows, err := decodeEventRows(f)
	if err != nil {
		t.Fatalf("decodeEventRows() error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d events, want 2 progress + 1 outcome", len(rows))
	}
	for i, want := range []string{"a.txt", "b.txt"} {
		if rows[i].Type != string(types.EventTypeProgress) || rows[i].Entry != want || rows[i].Index != i {
			t.Errorf("event %d = %+v, want progress for %s", i, rows[i], want)
		}
		if rows[i].Seq != int64(i+1) {
			t.Errorf("event %d seq = %d, want %d", i, rows[i].Seq, i+1)
		}
	}
	if rows[2].Type != string(types.EventTypeOutcome) || rows[2].Status != string(types.OutcomeSuccess) {
		t.Errorf("last event = %+v, want success outcome", rows[2])
	}
}

func TestRunAction_WebhookAdapter(t *testing.T) {
	origin := newOrigin(t, map[string]string{"/a": "alpha"})

	var mu sync.Mutex
	var got []adapter.ArchiveCompletedEvent
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev adapter.ArchiveCompletedEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	err := newTestApp().Run([]string{"zipline", "run",
		"--sink", "file", "--dir", t.TempDir(),
		"--run-id", "run-hook",
		"--entry", "a.txt=" + origin.URL + "/a",
		"--adapter", "webhook",
		"--adapter-url", hook.URL,
		"--quiet",
	})
	if code := exitCode(t, err); code != exitSuccess {
		t.Fatalf("exit code = %d, want 0 (err=%v)", code, err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("webhook received %d events, want 1", len(got))
	}
	if got[0].RunID != "run-hook" || got[0].Outcome != "success" || got[0].EntryCount != 1 {
		t.Errorf("event = %+v", got[0])
	}
}

func TestRunAction_AdapterFailureKeepsOutcome(t *testing.T) {
	origin := newOrigin(t, map[string]string{"/a": "alpha"})
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer hook.Close()

	err := newTestApp().Run([]string{"zipline", "run",
		"--sink", "file", "--dir", t.TempDir(),
		"--entry", "a.txt=" + origin.URL + "/a",
		"--adapter", "webhook",
		"--adapter-url", hook.URL,
		"--adapter-retries", "0",
		"--quiet",
	})
	if code := exitCode(t, err); code != exitSuccess {
		t.Errorf("exit code = %d, want 0 when only the adapter fails", code)
	}
}

func TestPrintRunResult(t *testing.T) {
	tests := []struct {
		name       string
		result     *runtime.RunResult
		wantStdout []string
		wantStderr []string
	}{
		{
			name: "success",
			result: &runtime.RunResult{
				RunMeta:      &types.RunMeta{RunID: "r1", Attempt: 1},
				Outcome:      &types.RunOutcome{Status: types.OutcomeSuccess, Message: "Written to files.zip!"},
				Entries:      []types.EntryRecord{{Name: "a"}},
				BytesWritten: 2048,
				Location:     "out/files.zip",
			},
			wantStdout: []string{"Written to files.zip!", "run_id=r1", "entries=1", "2.0 kB", "out/files.zip"},
		},
		{
			name: "cancelled",
			result: &runtime.RunResult{
				RunMeta: &types.RunMeta{RunID: "r2", Attempt: 1},
				Outcome: &types.RunOutcome{Status: types.OutcomeCancelled, Message: "no destination selected"},
			},
			wantStderr: []string{"Cancelled: no destination selected"},
		},
		{
			name: "write failure warns about corrupt output",
			result: &runtime.RunResult{
				RunMeta:  &types.RunMeta{RunID: "r3", Attempt: 1},
				Outcome:  &types.RunOutcome{Status: types.OutcomeFailed, Phase: types.PhaseEntryWrite, Message: "disk full"},
				Location: "out/files.zip",
			},
			wantStderr: []string{"Failed: disk full", "out/files.zip is likely incomplete or corrupt"},
		},
		{
			name: "fetch failure has no corruption warning",
			result: &runtime.RunResult{
				RunMeta: &types.RunMeta{RunID: "r4", Attempt: 1},
				Outcome: &types.RunOutcome{Status: types.OutcomeFailed, Phase: types.PhaseFetch, Message: "status 404"},
			},
			wantStderr: []string{"Failed: status 404"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr strings.Builder
			printRunResult(&stdout, &stderr, tt.result)
			for _, want := range tt.wantStdout {
				if !strings.Contains(stdout.String(), want) {
					t.Errorf("stdout missing %q:\n%s", want, stdout.String())
				}
			}
			for _, want := range tt.wantStderr {
				if !strings.Contains(stderr.String(), want) {
					t.Errorf("stderr missing %q:\n%s", want, stderr.String())
				}
			}
			if tt.result.Outcome.Phase == types.PhaseFetch && strings.Contains(stderr.String(), "corrupt") {
				t.Errorf("unexpected corruption warning:\n%s", stderr.String())
			}
		})
	}
}

func TestRunAction_ThroughProxy(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.URL.String())
		mu.Unlock()
		_, _ = io.WriteString(w, "proxied "+r.URL.Path)
	}))
	defer proxySrv.Close()

	dir := t.TempDir()
	err := newTestApp().Run([]string{"zipline", "run",
		"--sink", "file", "--dir", dir,
		"--proxy", proxySrv.URL,
		"--proxy-strategy", "sticky",
		"--entry", "a.txt=http://origin.invalid/a",
		"--entry", "b.txt=http://origin.invalid/b",
		"--quiet",
	})
	if code := exitCode(t, err); code != exitSuccess {
		t.Fatalf("exit code = %d, want 0 (err=%v)", code, err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != "http://origin.invalid/a" || seen[1] != "http://origin.invalid/b" {
		t.Errorf("proxy saw %v, want both entries in order", seen)
	}

	vr, err := archive.VerifyFile(filepath.Join(dir, sink.DefaultName))
	if err != nil || !vr.Valid || len(vr.Entries) != 2 {
		t.Fatalf("archive invalid: err=%v", err)
	}
}

func TestBuildProxySelector_ConfigEndpoints(t *testing.T) {
	app := cli.NewApp()
	app.Flags = []cli.Flag{
		&cli.StringSliceFlag{Name: "proxy"},
		&cli.StringFlag{Name: "proxy-strategy", Value: "round_robin"},
		&cli.DurationFlag{Name: "proxy-sticky-ttl"},
	}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range app.Flags {
		if err := f.Apply(fs); err != nil {
			t.Fatal(err)
		}
	}
	c := cli.NewContext(app, fs, nil)

	selector, err := buildProxySelector(c, nil)
	if err != nil || selector != nil {
		t.Fatalf("no proxies should give a nil selector, got %v, %v", selector, err)
	}

	cfg := &ziplineconfig.Config{Fetch: ziplineconfig.FetchConfig{Proxy: ziplineconfig.ProxyConfig{
		Endpoints: []string{"http://p1.example.com:3128", "http://p2.example.com:3128"},
		Strategy:  "random",
	}}}
	selector, err = buildProxySelector(c, cfg)
	if err != nil {
		t.Fatalf("buildProxySelector() error = %v", err)
	}
	if selector == nil {
		t.Fatal("expected a selector from config endpoints")
	}
	ep, err := selector.Select("")
	if err != nil {
		t.Fatal(err)
	}
	if ep.Host != "p1.example.com" && ep.Host != "p2.example.com" {
		t.Errorf("selected unexpected host %q", ep.Host)
	}
}
