package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/forPelevin/clipper/internal/pipeline"
	"github.com/forPelevin/clipper/internal/ports"
	"github.com/forPelevin/clipper/internal/runstore"
	"github.com/forPelevin/clipper/internal/types"
)

type fakeProcessor struct {
	mu      sync.Mutex
	keys    []string
	err     error
	delay   time.Duration
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (f *fakeProcessor) Process(ctx context.Context, req pipeline.Request) (types.RunResult, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.keys = append(f.keys, req.SourceKey)
	f.mu.Unlock()
	res := types.RunResult{
		RunID:     "run-1",
		SourceKey: req.SourceKey,
		Windows: []types.WindowStatus{
			{Index: 0, Start: 2, End: 18, State: types.StateDone, OutputKey: "videos/abc/clip_0.mp4"},
			{Index: 1, Start: 30, End: 70, State: types.StateFailed, FailedAt: types.StateTracking, Error: "exit status 1"},
		},
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	return res, f.err
}

func (f *fakeProcessor) seen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.keys)
}

type fakeRuns map[string]runstore.Run

func (f fakeRuns) GetRun(_ context.Context, id string) (runstore.Run, error) {
	r, ok := f[id]
	if !ok {
		return runstore.Run{}, fmt.Errorf("run %s: %w", id, ports.ErrNotFound)
	}
	return r, nil
}

func newTestServer(t *testing.T, token string, proc Processor) *httptest.Server {
	t.Helper()
	srv := New(proc, Options{Token: token})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, url, auth, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+"/process_video", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func errorMessage(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error.Message
}

func TestProcessVideo_Auth(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		auth       string
		wantStatus int
		wantMsg    string
	}{
		{"token not configured", "", "Bearer anything", http.StatusInternalServerError, "Server token is not configured"},
		{"missing header", "secret", "", http.StatusUnauthorized, "Incorrect Bearer token"},
		{"wrong token", "secret", "Bearer nope", http.StatusUnauthorized, "Incorrect Bearer token"},
		{"wrong scheme", "secret", "Basic secret", http.StatusUnauthorized, "Incorrect Bearer token"},
		{"prefix of token", "secret", "Bearer secre", http.StatusUnauthorized, "Incorrect Bearer token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &fakeProcessor{}
			ts := newTestServer(t, tt.token, proc)
			resp := post(t, ts.URL, tt.auth, `{"s3_key": "videos/abc/talk.mp4"}`)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if got := errorMessage(t, resp); got != tt.wantMsg {
				t.Fatalf("message = %q, want %q", got, tt.wantMsg)
			}
			if tt.wantStatus == http.StatusUnauthorized && resp.Header.Get("WWW-Authenticate") != "Bearer" {
				t.Fatal("expected WWW-Authenticate: Bearer")
			}
			if proc.seen() != 0 {
				t.Fatal("processor must not run on rejected requests")
			}
		})
	}
}

func TestProcessVideo_MissingKey(t *testing.T) {
	for _, body := range []string{``, `{}`, `{"s3_key": ""}`, `{"s3_key": "  "}`, `["videos/a.mp4"]`, `not json`} {
		t.Run(body, func(t *testing.T) {
			ts := newTestServer(t, "secret", &fakeProcessor{})
			resp := post(t, ts.URL, "Bearer secret", body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
			if got := errorMessage(t, resp); got != "Missing s3_key in request body" {
				t.Fatalf("message = %q", got)
			}
		})
	}
}

func TestProcessVideo_Success(t *testing.T) {
	proc := &fakeProcessor{}
	ts := newTestServer(t, "secret", proc)
	resp := post(t, ts.URL, "bearer secret", `{"s3_key": "videos/abc/talk.mp4"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var res types.RunResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.RunID != "run-1" || res.SourceKey != "videos/abc/talk.mp4" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Windows) != 2 || res.Windows[1].FailedAt != types.StateTracking {
		t.Fatalf("expected per-window statuses, got %+v", res.Windows)
	}
}

func TestProcessVideo_RunError(t *testing.T) {
	proc := &fakeProcessor{err: errors.New("download videos/abc/talk.mp4: not found")}
	ts := newTestServer(t, "secret", proc)
	resp := post(t, ts.URL, "Bearer secret", `{"s3_key": "videos/abc/talk.mp4"}`)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		RunID string `json:"run_id"`
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.RunID != "run-1" || !strings.Contains(body.Error.Message, "download") {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestProcessVideo_OneRunAtATime(t *testing.T) {
	proc := &fakeProcessor{delay: 30 * time.Millisecond}
	ts := newTestServer(t, "secret", proc)

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodPost, ts.URL+"/process_video",
				strings.NewReader(fmt.Sprintf(`{"s3_key": "v/%d.mp4"}`, i)))
			req.Header.Set("Authorization", "Bearer secret")
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Error(err)
				return
			}
			resp.Body.Close()
		}(i)
	}
	wg.Wait()
	if got := proc.maxSeen.Load(); got != 1 {
		t.Fatalf("expected runs to be serialized, saw %d concurrent", got)
	}
	if n := proc.seen(); n != 3 {
		t.Fatalf("expected 3 runs, got %d", n)
	}
}

func TestProcessVideo_WrongMethod(t *testing.T) {
	ts := newTestServer(t, "secret", &fakeProcessor{})
	resp, err := http.Get(ts.URL + "/process_video")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, "", &fakeProcessor{})
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || body["status"] != "healthy" {
		t.Fatalf("unexpected health response: %d %v", resp.StatusCode, body)
	}
}

func getRun(t *testing.T, srv *Server, id, auth string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/v1/runs/"+id, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestGetRun(t *testing.T) {
	srv := New(&fakeProcessor{}, Options{Token: "secret"})

	if rec := getRun(t, srv, "run-1", "Bearer secret"); rec.Code != http.StatusNotFound {
		t.Fatalf("disabled ledger: status = %d, want 404", rec.Code)
	}

	srv.SetRunLookup(fakeRuns{"run-1": {
		RunResult: types.RunResult{RunID: "run-1", SourceKey: "videos/abc/talk.mp4", Windows: []types.WindowStatus{}},
		Error:     "",
	}})

	if rec := getRun(t, srv, "run-1", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no auth: status = %d, want 401", rec.Code)
	}
	if rec := getRun(t, srv, "missing", "Bearer secret"); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown id: status = %d, want 404", rec.Code)
	}
	rec := getRun(t, srv, "run-1", "Bearer secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var run runstore.Run
	if err := json.NewDecoder(rec.Body).Decode(&run); err != nil {
		t.Fatal(err)
	}
	if run.RunID != "run-1" || run.SourceKey != "videos/abc/talk.mp4" {
		t.Fatalf("unexpected run: %+v", run)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer  abc ", "abc", true},
		{"Bearer", "", false},
		{"Bearer ", "", false},
		{"Token abc", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, ok := bearerToken(r)
			if got != tt.want || ok != tt.ok {
				t.Fatalf("bearerToken(%q) = %q, %v; want %q, %v", tt.header, got, ok, tt.want, tt.ok)
			}
		})
	}
}
