package processor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/cronrule/config"
	"github.com/timzifer/cronrule/telemetry"
)

type reloadCounter struct {
	telemetry.Collector
	mu    sync.Mutex
	files []string
}

func (c *reloadCounter) IncHotReload(file string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.files = append(c.files, file)
}

func (c *reloadCounter) reloaded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.files...)
}

func writeConfig(t *testing.T, path string, hotReload bool, extraRules string) {
	t.Helper()
	flag := "false"
	if hotReload {
		flag = "true"
	}
	content := "name: test\nhot_reload: " + flag + "\nrules:\n  - id: noon\n    expression: \"0 12 * * *\"\n" + extraRules
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func ruleCount(t *testing.T, proc *Processor) int {
	t.Helper()
	resp, err := http.Get("http://" + proc.APIAddress() + "/api/rules")
	require.NoError(t, err)
	defer resp.Body.Close()
	var env struct {
		Status  string `json:"status"`
		Content struct {
			Result []json.RawMessage `json:"result"`
		} `json:"content"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	require.Equal(t, "OK", env.Status)
	return len(env.Content.Result)
}

func waitRunning(t *testing.T, proc *Processor) {
	t.Helper()
	require.Eventually(t, func() bool {
		proc.mu.Lock()
		defer proc.mu.Unlock()
		return proc.running
	}, time.Second, 10*time.Millisecond)
}

func newProcessor(t *testing.T, path string, opts ...Option) *Processor {
	t.Helper()
	opts = append([]Option{
		WithConfigPath(path, nil),
		WithLogger(zerolog.Nop()),
		WithListen("127.0.0.1:0"),
		WithTelemetry(telemetry.Noop()),
	}, opts...)
	proc, err := New(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(proc.Close)
	return proc
}

func TestNewRequiresConfiguration(t *testing.T) {
	_, err := New(context.Background())
	require.ErrorContains(t, err, "configuration path required")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = New(ctx, WithConfig(&config.Config{}))
	require.ErrorIs(t, err, context.Canceled)

	_, err = New(context.Background(), WithConfigPath(filepath.Join(t.TempDir(), "missing.yaml"), nil))
	require.ErrorContains(t, err, "load configuration")

	_, err = New(context.Background(), WithListen(" "))
	require.ErrorContains(t, err, "listen address")
}

func TestNewWithConfigServesAPI(t *testing.T) {
	cfg := &config.Config{Rules: []config.RuleConfig{{ID: "noon", Expression: "0 12 * * *"}}}
	proc, err := New(context.Background(), WithConfig(cfg), WithLogger(zerolog.Nop()), WithListen("127.0.0.1:0"), WithTelemetry(nil))
	require.NoError(t, err)
	defer proc.Close()
	require.Equal(t, 1, ruleCount(t, proc))
}

func TestWithoutAPI(t *testing.T) {
	cfg := &config.Config{}
	proc, err := New(context.Background(), WithConfig(cfg), WithLogger(zerolog.Nop()), WithoutAPI())
	require.NoError(t, err)
	defer proc.Close()
	require.Empty(t, proc.APIAddress())
}

func TestReloadWhileStopped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, false, "")

	var reloadFn ReloadFunc
	proc := newProcessor(t, path, WithConfigPath(path, func(fn ReloadFunc) { reloadFn = fn }))
	require.NotNil(t, reloadFn)
	require.Equal(t, 1, ruleCount(t, proc))

	writeConfig(t, path, false, "  - id: evening\n    expression: \"0 20 * * *\"\n")
	require.NoError(t, reloadFn(context.Background()))
	require.Equal(t, 2, ruleCount(t, proc))

	writeConfig(t, path, false, "  - id: broken\n    expression: \"0 25 * * *\"\n")
	require.Error(t, reloadFn(context.Background()))
	require.Equal(t, 2, ruleCount(t, proc))
}

func TestRunReloadsOnRequest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, false, "")
	proc := newProcessor(t, path)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- proc.Run(ctx) }()
	waitRunning(t, proc)

	writeConfig(t, path, false, "  - id: evening\n    expression: \"0 20 * * *\"\n")
	reloadCtx, cancelReload := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelReload()
	require.NoError(t, proc.Reload(reloadCtx))
	require.Equal(t, 2, ruleCount(t, proc))

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestRunHotReloadsChangedFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, true, "")
	counter := &reloadCounter{Collector: telemetry.Noop()}
	proc := newProcessor(t, path, WithTelemetry(counter))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- proc.Run(ctx) }()

	writeConfig(t, path, true, "  - id: evening\n    expression: \"0 20 * * *\"\n")
	require.Eventually(t, func() bool {
		return len(counter.reloaded()) > 0
	}, 5*time.Second, 50*time.Millisecond)
	require.Equal(t, 2, ruleCount(t, proc))

	abs, err := filepath.Abs(path)
	require.NoError(t, err)
	require.Contains(t, counter.reloaded(), abs)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestRunRejectsSecondCall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, false, "")
	proc := newProcessor(t, path)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- proc.Run(ctx) }()
	waitRunning(t, proc)
	require.ErrorContains(t, proc.Run(ctx), "already running")

	cancel()
	<-done
	require.ErrorContains(t, proc.Run(context.Background()), "not initialized")
}

func TestDrainReloadRequests(t *testing.T) {
	proc := &Processor{}
	errSent := errors.New("boom")
	done1 := make(chan error, 1)
	done2 := make(chan error, 1)
	ch := make(chan reloadRequest, 2)
	ch <- reloadRequest{done: done1}
	ch <- reloadRequest{done: done2}

	proc.drainReloadRequests(ch, errSent)
	require.Equal(t, errSent, <-done1)
	require.Equal(t, errSent, <-done2)
	require.Empty(t, ch)

	proc.drainReloadRequests(nil, errSent)
}

func TestTickChannel(t *testing.T) {
	require.Nil(t, tickChannel(nil))
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	require.Equal(t, (<-chan time.Time)(ticker.C), tickChannel(ticker))
}

func TestNewTelemetryCollector(t *testing.T) {
	collector, err := newTelemetryCollector(config.TelemetryConfig{})
	require.NoError(t, err)
	require.Equal(t, telemetry.Noop(), collector)

	_, err = newTelemetryCollector(config.TelemetryConfig{Enabled: true, Provider: "statsd"})
	require.ErrorContains(t, err, `unsupported telemetry provider "statsd"`)
}
