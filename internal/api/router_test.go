package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/CZERTAINLY/Recon/internal/api"
	"github.com/CZERTAINLY/Recon/internal/model"
	"github.com/CZERTAINLY/Recon/internal/service"

	"github.com/stretchr/testify/require"
)

// recordingStarter records started commands, every process exits at once.
type recordingStarter struct {
	mx   sync.Mutex
	cmds []service.Command
}

func (r *recordingStarter) Start(_ context.Context, cmd service.Command, _ service.LineFunc) (<-chan service.Result, error) {
	r.mx.Lock()
	r.cmds = append(r.cmds, cmd)
	r.mx.Unlock()
	ch := make(chan service.Result, 1)
	ch <- service.Result{Name: cmd.Name, Started: time.Now(), Stopped: time.Now()}
	close(ch)
	return ch, nil
}

func (r *recordingStarter) commands() []service.Command {
	r.mx.Lock()
	defer r.mx.Unlock()
	return append([]service.Command(nil), r.cmds...)
}

type fixture struct {
	server   *api.Server
	pipeline *service.Pipeline
	store    *service.MemorySessionStore
	starter  *recordingStarter
	static   string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	cfg := model.DefaultConfig().Pipeline
	cfg.BaseDir = t.TempDir()
	cfg.Stages.Scanner.Delay = 10 * time.Millisecond
	pcfg, err := service.NewPipelineConfig(cfg)
	require.NoError(t, err)

	static := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(static, "index.html"), []byte("<h1>recon</h1>"), 0o644))

	starter := &recordingStarter{}
	store := service.NewMemorySessionStore()
	pipeline := service.NewPipeline(pcfg, store, starter)
	t.Cleanup(pipeline.Close)

	return fixture{
		server:   api.NewServer(pipeline, store, static),
		pipeline: pipeline,
		store:    store,
		starter:  starter,
		static:   static,
	}
}

func (f fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestRun(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/run", `{"domain":"example.com","url":"http://bgp.example"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t,
		`{"status":"Recon + Scan started","ip_file":"example.com_data/All_example.com_IP_Range.txt"}`,
		rec.Body.String())

	f.pipeline.Wait()
	cmds := f.starter.commands()
	require.Len(t, cmds, 3)
	require.Equal(t, []string{"-d", "example.com", "-t", "500", "-u", "http://bgp.example"}, cmds[0].Args)
	require.Equal(t, []string{"scanner.py", "example.com_data/All_example.com_IP_Range.txt"}, cmds[2].Args)

	active, ok := f.store.Active()
	require.True(t, ok)
	require.Equal(t, "example.com", active.Domain)
}

func TestRunDomainRequired(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		scenario string
		body     string
	}{
		{"empty body", ""},
		{"empty object", `{}`},
		{"url only", `{"url":"http://bgp.example"}`},
		{"empty domain", `{"domain":""}`},
		{"malformed", `{"domain":`},
		{"wrong url type", `{"domain":"example.com","url":123}`},
	} {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			rec := f.do(t, http.MethodPost, "/run", tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.JSONEq(t, `{"error":"Domain required"}`, rec.Body.String())

			f.pipeline.Wait()
			require.Empty(t, f.starter.commands())
			_, ok := f.store.Active()
			require.False(t, ok)
		})
	}
}

func TestRunWhitespaceDomain(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/run", `{"domain":" "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t,
		`{"status":"Recon + Scan started","ip_file":" _data/All_ _IP_Range.txt"}`,
		rec.Body.String())
	f.pipeline.Wait()
	require.Len(t, f.starter.commands(), 3)
}

func TestRunAfterClose(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.pipeline.Close()

	rec := f.do(t, http.MethodPost, "/run", `{"domain":"example.com"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.JSONEq(t, `{"error":"pipeline closed"}`, rec.Body.String())
	require.Empty(t, f.starter.commands())
}

func TestSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/session", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.JSONEq(t, `{"error":"no active session"}`, rec.Body.String())

	for _, domain := range []string{"first.example", "second.example"} {
		rec = f.do(t, http.MethodPost, "/run", `{"domain":"`+domain+`"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/session", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var session model.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	require.Equal(t, model.NewSession("second.example"), session)
}

func TestHealthMetricsStatic(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/run", `{"domain":"example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `recon_runs_total{result="accepted"}`)
	require.Contains(t, rec.Body.String(), `recon_http_requests_total{method="POST",path="/run",status="200"}`)

	rec = f.do(t, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "<h1>recon</h1>")
}
