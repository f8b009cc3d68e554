package prompt

import (
	"bytes"
	_ "embed"
	"text/template"
	"unicode/utf8"

	domain "github.com/swingft/console-llm/internal/domain/analysis"
)

//go:embed templates/exclude_system.tmpl
var excludeSystem string

//go:embed templates/sensitive_system.tmpl
var sensitiveSystem string

//go:embed templates/user.tmpl
var userTemplate string

var userTmpl = template.Must(template.New("user").Parse(userTemplate))

const (
	// Rough bytes-per-token for mixed code/JSON input. Used only to map the
	// token budget onto a byte budget before sending anything to the model.
	bytesPerToken = 4

	truncationMarker = "\n// ... source truncated ..."
	degradedAstNote  = `{"error": "AST extraction unavailable; analyze the source code alone"}`
)

var taskLines = map[domain.Mode]string{
	domain.ModeExclude:   "Identify identifiers in the above Swift code that must be excluded from obfuscation and return ONLY a JSON object with 'reasoning' and 'identifiers' keys.",
	domain.ModeSensitive: "Perform a security audit on the above Swift code and return ONLY a JSON object with 'reasoning' and 'identifiers' keys. Focus on finding security-sensitive identifiers.",
}

type promptData struct {
	Source       string
	AstSection   string
	ExcludeHints []string
	IncludeHints []string
	Task         string
}

// Builder assembles generation requests. Build is pure: identical inputs and
// budgets always produce byte-identical prompts.
type Builder struct {
	promptBudget int // input token budget
	maxTokens    int // output token budget forwarded to the session
}

func NewBuilder(promptBudget, maxTokens int) *Builder {
	if promptBudget <= 0 {
		promptBudget = 3072
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Builder{promptBudget: promptBudget, maxTokens: maxTokens}
}

// Build combines source text, the AST document and the user's rule hints into
// one request. A failed AST document degrades to a placeholder note instead of
// blocking the pipeline. Oversized input is cut from the end of the source
// text, then from the end of the AST section, never from the header.
func (b *Builder) Build(source string, ast domain.AstDocument, mode domain.Mode, hints domain.RuleHints) domain.GenerationRequest {
	data := promptData{
		AstSection:   degradedAstNote,
		ExcludeHints: hints.Exclude,
		IncludeHints: hints.Include,
		Task:         taskLines[mode],
	}
	degraded := ast.Failed || len(ast.JSON) == 0
	if !degraded {
		data.AstSection = string(ast.JSON)
	}

	budget := b.promptBudget * bytesPerToken
	user, truncated := b.render(data, source, budget)

	return domain.GenerationRequest{
		System:      systemFor(mode),
		Prompt:      user,
		MaxTokens:   b.maxTokens,
		Mode:        mode,
		DegradedAST: degraded,
		Truncated:   truncated,
	}
}

func (b *Builder) render(data promptData, source string, budget int) (string, bool) {
	full := execute(data, source)
	if len(full) <= budget {
		return full, false
	}

	// Everything except the source body counts as fixed overhead.
	overhead := len(execute(data, "")) + len(truncationMarker)
	allowed := budget - overhead
	if allowed < 0 {
		allowed = 0
	}
	if allowed < len(source) {
		source = cutAtRune(source, allowed) + truncationMarker
	}
	out := execute(data, source)

	if len(out) > budget {
		// AST section dominates; cut it from the end as well. When even a
		// full cut cannot absorb the excess, drop the section entirely.
		keep := len(data.AstSection) - (len(out) - budget)
		if keep < 0 {
			keep = 0
		}
		data.AstSection = cutAtRune(data.AstSection, keep)
		out = execute(data, source)
	}
	return out, true
}

func execute(data promptData, source string) string {
	data.Source = source
	var buf bytes.Buffer
	_ = userTmpl.Execute(&buf, data)
	return buf.String()
}

// cutAtRune truncates s to at most n bytes without splitting a UTF-8 rune.
func cutAtRune(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func systemFor(mode domain.Mode) string {
	if mode == domain.ModeSensitive {
		return sensitiveSystem
	}
	return excludeSystem
}
