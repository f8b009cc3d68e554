package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/swingft/console-llm/internal/application"
	appanalysis "github.com/swingft/console-llm/internal/application/analysis"
	domain "github.com/swingft/console-llm/internal/domain/analysis"
	"github.com/swingft/console-llm/internal/infra/discovery"
)

type fixedExtractor struct{}

func (fixedExtractor) Extract(_ context.Context, path string, _ domain.Mode) domain.AstDocument {
	return domain.AstDocument{FilePath: path, JSON: []byte(`{}`)}
}

type fixedBuilder struct{}

func (fixedBuilder) Build(source string, _ domain.AstDocument, mode domain.Mode, _ domain.RuleHints) domain.GenerationRequest {
	return domain.GenerationRequest{System: "s", Prompt: source, Mode: mode}
}

// gateSession optionally blocks Generate until released, so tests can hold a
// run in flight.
type gateSession struct {
	block chan struct{}
}

func (s *gateSession) Generate(ctx context.Context, _ domain.GenerationRequest) (domain.GenerationResult, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return domain.GenerationResult{}, ctx.Err()
		}
	}
	return domain.GenerationResult{RawText: "found"}, nil
}

func (s *gateSession) Close() error { return nil }

type fixedParser struct{}

func (fixedParser) Parse(raw string, _ domain.Mode) domain.Parsed {
	return domain.Parsed{Reasoning: raw, Identifiers: []string{"token"}, OK: true}
}

func newTestRouter(t *testing.T, session domain.Session) (http.Handler, string) {
	t.Helper()
	svc := &appanalysis.Service{
		Extractor:  fixedExtractor{},
		Finder:     discovery.Finder{},
		Sessions:   appanalysis.SinglePool(session),
		Prompts:    fixedBuilder{},
		Parser:     fixedParser{},
		Clock:      application.SystemClock{},
		MaxWorkers: 2,
	}

	project := t.TempDir()
	if err := os.WriteFile(filepath.Join(project, "A.swift"), []byte("let a = 1"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(project, "swingft_config.json")
	cfg := fmt.Sprintf(`{"project": {"input": %q}}`, project)
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return NewRouter(svc, Options{}), cfgPath
}

func postAnalyze(h http.Handler, mode, configPath string) *httptest.ResponseRecorder {
	body, _ := json.Marshal(map[string]string{"mode": mode, "config_path": configPath})
	req := httptest.NewRequest("POST", "/v1/analyze", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func latestRuns(t *testing.T, h http.Handler) (bool, []map[string]any) {
	t.Helper()
	req := httptest.NewRequest("GET", "/v1/runs/latest", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("latest: %d", w.Code)
	}
	var body struct {
		Busy bool             `json:"busy"`
		Runs []map[string]any `json:"runs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	return body.Busy, body.Runs
}

func TestRouter_Health(t *testing.T) {
	h, _ := newTestRouter(t, &gateSession{})
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("health: %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status: %v", body["status"])
	}
}

func TestRouter_Metrics(t *testing.T) {
	h, _ := newTestRouter(t, &gateSession{})
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if _, ok := body["runs_total"]; !ok {
		t.Errorf("metrics body: %v", body)
	}
}

func TestRouter_TokenAuth(t *testing.T) {
	session := &gateSession{}
	svc := &appanalysis.Service{
		Extractor:  fixedExtractor{},
		Finder:     discovery.Finder{},
		Sessions:   appanalysis.SinglePool(session),
		Prompts:    fixedBuilder{},
		Parser:     fixedParser{},
		Clock:      application.SystemClock{},
		MaxWorkers: 1,
	}
	h := NewRouter(svc, Options{AuthToken: "secret"})

	// Health stays open.
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("health with auth enabled: %d", w.Code)
	}

	req := httptest.NewRequest("GET", "/v1/runs/latest", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("missing token: %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/v1/runs/latest", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/v1/runs/latest", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("valid token: %d", w.Code)
	}
}

func TestRouter_AnalyzeValidation(t *testing.T) {
	h, cfgPath := newTestRouter(t, &gateSession{})

	if w := postAnalyze(h, "bogus", cfgPath); w.Code != http.StatusInternalServerError {
		t.Errorf("bad mode: %d", w.Code)
	}
	if w := postAnalyze(h, "exclude", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("missing config path: %d", w.Code)
	}
	if w := postAnalyze(h, "exclude", "/nonexistent.json"); w.Code != http.StatusInternalServerError {
		t.Errorf("unreadable config: %d", w.Code)
	}
}

func TestRouter_AnalyzeRunsInBackground(t *testing.T) {
	h, cfgPath := newTestRouter(t, &gateSession{})

	w := postAnalyze(h, "exclude", cfgPath)
	if w.Code != http.StatusAccepted {
		t.Fatalf("analyze: %d %s", w.Code, w.Body.String())
	}

	deadline := time.After(5 * time.Second)
	for {
		busy, runs := latestRuns(t, h)
		if !busy && len(runs) == 1 {
			if runs[0]["mode"] != "exclude" {
				t.Errorf("run mode: %v", runs[0]["mode"])
			}
			if runs[0]["files_analyzed"] != float64(1) {
				t.Errorf("files analyzed: %v", runs[0]["files_analyzed"])
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("run never finished: busy=%v runs=%d", busy, len(runs))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRouter_ConcurrentRunsRejected(t *testing.T) {
	session := &gateSession{block: make(chan struct{})}
	h, cfgPath := newTestRouter(t, session)

	if w := postAnalyze(h, "exclude", cfgPath); w.Code != http.StatusAccepted {
		t.Fatalf("first run: %d", w.Code)
	}
	// The first run is parked inside Generate; a second must be refused.
	waitBusy := time.After(5 * time.Second)
	for {
		if busy, _ := latestRuns(t, h); busy {
			break
		}
		select {
		case <-waitBusy:
			t.Fatal("first run never became busy")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if w := postAnalyze(h, "exclude", cfgPath); w.Code != http.StatusConflict {
		t.Fatalf("second run: %d", w.Code)
	}

	close(session.block)
	deadline := time.After(5 * time.Second)
	for {
		if busy, _ := latestRuns(t, h); !busy {
			return
		}
		select {
		case <-deadline:
			t.Fatal("run never drained")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
