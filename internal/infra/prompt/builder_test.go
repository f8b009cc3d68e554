package prompt

import (
	"strings"
	"testing"

	domain "github.com/swingft/console-llm/internal/domain/analysis"
)

func astDoc(body string) domain.AstDocument {
	return domain.AstDocument{FilePath: "a.swift", JSON: []byte(body)}
}

func TestBuild_IncludesAllSections(t *testing.T) {
	b := NewBuilder(3072, 1024)
	req := b.Build("class Login {}", astDoc(`{"decls": ["Login"]}`), domain.ModeExclude,
		domain.RuleHints{Exclude: []string{"AppDelegate"}, Include: []string{"crypto*"}})

	if req.Mode != domain.ModeExclude {
		t.Errorf("mode: %v", req.Mode)
	}
	if req.MaxTokens != 1024 {
		t.Errorf("max tokens: %d", req.MaxTokens)
	}
	if req.DegradedAST || req.Truncated {
		t.Errorf("unexpected degraded=%v truncated=%v", req.DegradedAST, req.Truncated)
	}
	for _, want := range []string{"class Login {}", `{"decls": ["Login"]}`, "AppDelegate", "crypto*"} {
		if !strings.Contains(req.Prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if req.System != excludeSystem {
		t.Errorf("wrong system prompt for exclude mode")
	}
}

func TestBuild_SensitiveSystemPrompt(t *testing.T) {
	b := NewBuilder(3072, 1024)
	req := b.Build("let x = 1", astDoc(`{}`), domain.ModeSensitive, domain.RuleHints{})
	if req.System != sensitiveSystem {
		t.Errorf("wrong system prompt for sensitive mode")
	}
	if !strings.Contains(req.Prompt, "security audit") {
		t.Errorf("sensitive task line missing")
	}
}

func TestBuild_DegradedAST(t *testing.T) {
	b := NewBuilder(3072, 1024)
	failed := domain.AstDocument{FilePath: "a.swift", Failed: true, Reason: "timeout"}
	req := b.Build("struct S {}", failed, domain.ModeExclude, domain.RuleHints{})

	if !req.DegradedAST {
		t.Fatal("expected degraded request")
	}
	if !strings.Contains(req.Prompt, "AST extraction unavailable") {
		t.Errorf("degraded note missing from prompt")
	}
	if strings.Contains(req.Prompt, "timeout") {
		t.Errorf("extraction failure reason must not leak into the prompt")
	}
}

func TestBuild_EmptyASTTreatedAsDegraded(t *testing.T) {
	b := NewBuilder(3072, 1024)
	req := b.Build("struct S {}", domain.AstDocument{FilePath: "a.swift"}, domain.ModeExclude, domain.RuleHints{})
	if !req.DegradedAST {
		t.Fatal("empty AST document should degrade")
	}
}

func TestBuild_TruncatesOversizedSource(t *testing.T) {
	b := NewBuilder(256, 256) // 1024-byte budget
	source := strings.Repeat("func f() {}\n", 500)
	req := b.Build(source, astDoc(`{}`), domain.ModeExclude, domain.RuleHints{})

	if !req.Truncated {
		t.Fatal("expected truncation")
	}
	if len(req.Prompt) > 256*bytesPerToken {
		t.Errorf("prompt %d bytes exceeds budget %d", len(req.Prompt), 256*bytesPerToken)
	}
	if !strings.Contains(req.Prompt, "source truncated") {
		t.Errorf("truncation marker missing")
	}
}

func TestBuild_OversizedASTIsCut(t *testing.T) {
	b := NewBuilder(64, 256) // budget smaller than the template scaffolding
	ast := astDoc(`{"decls": ["` + strings.Repeat("VeryLongDeclarationName", 1000) + `"]}`)
	req := b.Build("let x = 1", ast, domain.ModeExclude, domain.RuleHints{})

	if !req.Truncated {
		t.Fatal("expected truncation")
	}
	if strings.Contains(req.Prompt, "VeryLongDeclarationName") {
		t.Errorf("AST body must be cut when it cannot fit the budget")
	}
	if len(req.Prompt) > 1024 {
		t.Errorf("prompt is %d bytes, the AST section was not cut", len(req.Prompt))
	}
}

func TestBuild_ASTPartiallyCutUnderModestBudget(t *testing.T) {
	b := NewBuilder(256, 256) // 1024-byte budget
	ast := astDoc(`{"decls": [` + strings.Repeat(`"decl",`, 3000) + `"decl"]}`)
	req := b.Build("let x = 1", ast, domain.ModeExclude, domain.RuleHints{})

	if !req.Truncated {
		t.Fatal("expected truncation")
	}
	if len(req.Prompt) > 256*bytesPerToken {
		t.Errorf("prompt %d bytes exceeds budget %d", len(req.Prompt), 256*bytesPerToken)
	}
}

func TestBuild_Deterministic(t *testing.T) {
	b := NewBuilder(256, 256)
	source := strings.Repeat("let value = compute()\n", 200)
	ast := astDoc(`{"decls": [` + strings.Repeat(`"v",`, 100) + `"v"]}`)

	first := b.Build(source, ast, domain.ModeSensitive, domain.RuleHints{Exclude: []string{"a", "b"}})
	for i := 0; i < 5; i++ {
		again := b.Build(source, ast, domain.ModeSensitive, domain.RuleHints{Exclude: []string{"a", "b"}})
		if again.Prompt != first.Prompt {
			t.Fatalf("prompt differs between identical builds (run %d)", i)
		}
	}
}

func TestCutAtRune(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "hel"},
		{"héllo", 2, "h"}, // é is two bytes; never split it
		{"héllo", 3, "hé"},
		{"", 0, ""},
	}
	for _, tc := range cases {
		if got := cutAtRune(tc.in, tc.n); got != tc.want {
			t.Errorf("cutAtRune(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}
