package ast

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/swingft/console-llm/internal/domain/analysis"
)

// fakeAnalyzer writes a shell script standing in for the analyzer binary.
func fakeAnalyzer(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "analyzer.sh")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBridge_Extract(t *testing.T) {
	bin := fakeAnalyzer(t, `echo '{"identifiers": ["foo"], "file": "'"$1"'"}'`)
	b := NewBridge(bin, 5*time.Second)

	doc := b.Extract(context.Background(), "/tmp/Thing.swift")
	if doc.Failed {
		t.Fatalf("unexpected failure: %s", doc.Reason)
	}
	if doc.FilePath != "/tmp/Thing.swift" {
		t.Errorf("file path: %q", doc.FilePath)
	}
	if !strings.Contains(string(doc.JSON), `"foo"`) {
		t.Errorf("json: %s", doc.JSON)
	}
}

func TestBridge_BannerBeforeJSON(t *testing.T) {
	bin := fakeAnalyzer(t, "echo 'SwiftASTAnalyzer v2.1'\necho 'loading...'\necho '{\"ok\": true}'")
	b := NewBridge(bin, 5*time.Second)

	doc := b.Extract(context.Background(), "x.swift")
	if doc.Failed {
		t.Fatalf("unexpected failure: %s", doc.Reason)
	}
	if string(doc.JSON) != `{"ok": true}` {
		t.Errorf("json: %q", doc.JSON)
	}
}

func TestBridge_NonZeroExit(t *testing.T) {
	bin := fakeAnalyzer(t, "echo 'parse error: unexpected token' >&2\nexit 3")
	b := NewBridge(bin, 5*time.Second)

	doc := b.Extract(context.Background(), "x.swift")
	if !doc.Failed {
		t.Fatal("expected failure")
	}
	if !strings.Contains(doc.Reason, "parse error") {
		t.Errorf("stderr not captured in reason: %q", doc.Reason)
	}
}

func TestBridge_MalformedOutput(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		reason string
	}{
		{"empty", "true", "no output"},
		{"no json", "echo 'done, nothing found'", "no JSON document"},
		{"broken json", `echo '{"identifiers": ['`, "malformed JSON"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := NewBridge(fakeAnalyzer(t, tc.body), 5*time.Second)
			doc := b.Extract(context.Background(), "x.swift")
			if !doc.Failed {
				t.Fatal("expected failure")
			}
			if !strings.Contains(doc.Reason, tc.reason) {
				t.Errorf("reason %q does not mention %q", doc.Reason, tc.reason)
			}
		})
	}
}

func TestBridge_Timeout(t *testing.T) {
	bin := fakeAnalyzer(t, "sleep 5")
	b := NewBridge(bin, 100*time.Millisecond)

	start := time.Now()
	doc := b.Extract(context.Background(), "x.swift")
	if !doc.Failed {
		t.Fatal("expected failure")
	}
	if !strings.Contains(doc.Reason, "timed out") {
		t.Errorf("reason: %q", doc.Reason)
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("timeout did not kill the analyzer promptly")
	}
}

func TestBridge_MissingBinary(t *testing.T) {
	b := NewBridge("/nonexistent/analyzer", time.Second)
	doc := b.Extract(context.Background(), "x.swift")
	if !doc.Failed {
		t.Fatal("expected failure")
	}
}

func TestSelector_RoutesByMode(t *testing.T) {
	exclude := NewBridge(fakeAnalyzer(t, `echo '{"from": "exclude"}'`), time.Second)
	sel := NewSelector(map[domain.Mode]*Bridge{domain.ModeExclude: exclude})

	doc := sel.Extract(context.Background(), "x.swift", domain.ModeExclude)
	if doc.Failed || string(doc.JSON) != `{"from": "exclude"}` {
		t.Fatalf("exclude route: failed=%v json=%s", doc.Failed, doc.JSON)
	}

	doc = sel.Extract(context.Background(), "x.swift", domain.ModeSensitive)
	if !doc.Failed {
		t.Fatal("unconfigured mode must degrade to a failed document")
	}
	if !strings.Contains(doc.Reason, "sensitive") {
		t.Errorf("reason: %q", doc.Reason)
	}
}

type countingExtractor struct {
	calls atomic.Int64
	doc   domain.AstDocument
}

func (c *countingExtractor) Extract(_ context.Context, path string, _ domain.Mode) domain.AstDocument {
	c.calls.Add(1)
	d := c.doc
	d.FilePath = path
	return d
}

func TestCachedExtractor_HitsAndModes(t *testing.T) {
	file := filepath.Join(t.TempDir(), "a.swift")
	if err := os.WriteFile(file, []byte("struct A {}"), 0o644); err != nil {
		t.Fatal(err)
	}

	inner := &countingExtractor{doc: domain.AstDocument{JSON: []byte(`{}`)}}
	cached, err := NewCachedExtractor(inner, 8)
	if err != nil {
		t.Fatal(err)
	}

	cached.Extract(context.Background(), file, domain.ModeExclude)
	cached.Extract(context.Background(), file, domain.ModeExclude)
	if got := inner.calls.Load(); got != 1 {
		t.Errorf("repeat extraction not cached: %d calls", got)
	}

	// A different mode may run a different analyzer; it never shares entries.
	cached.Extract(context.Background(), file, domain.ModeSensitive)
	if got := inner.calls.Load(); got != 2 {
		t.Errorf("modes must not share cache entries: %d calls", got)
	}
}

func TestCachedExtractor_FailuresNotCached(t *testing.T) {
	inner := &countingExtractor{doc: domain.AstDocument{Failed: true, Reason: "boom"}}
	cached, err := NewCachedExtractor(inner, 8)
	if err != nil {
		t.Fatal(err)
	}

	cached.Extract(context.Background(), "missing.swift", domain.ModeExclude)
	cached.Extract(context.Background(), "missing.swift", domain.ModeExclude)
	if got := inner.calls.Load(); got != 2 {
		t.Errorf("failed documents must be retried, got %d calls", got)
	}
}
