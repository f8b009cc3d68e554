package llama

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	openai "github.com/sashabaranov/go-openai"

	domain "github.com/swingft/console-llm/internal/domain/analysis"
)

// Config for one model session. All knobs are fixed for the session's
// lifetime; only the attached adapter may change (via a serialized restart).
type Config struct {
	ServerBin     string
	BaseModelPath string
	AdapterPaths  map[domain.Mode]string
	ContextLen    int
	GPULayers     int
	Threads       int
	KVCache4Bit   bool
	Host          string
	Port          int
	StartTimeout  time.Duration
	Temperature   float32
	TopP          float32
}

func (c *Config) defaults() {
	if c.ServerBin == "" {
		c.ServerBin = "llama-server"
	}
	if c.ContextLen <= 0 {
		c.ContextLen = 4096
	}
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 8691
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = 3 * time.Minute
	}
	if c.Temperature == 0 {
		c.Temperature = 0.1
	}
	if c.TopP == 0 {
		c.TopP = 0.9
	}
}

// Session drives a llama-server child process through its OpenAI-compatible
// endpoint. The base model stays loaded for the whole run; switching mode
// restarts the server with the other LoRA adapter. Generate is not safe for
// concurrent use and relies on the scheduler's per-session gate; the internal
// mutex only fences Close against an in-flight restart.
type Session struct {
	cfg    Config
	client *openai.Client

	mu     sync.Mutex
	mode   domain.Mode
	cmd    *exec.Cmd
	exited chan struct{}
}

// New validates the model files and starts the server with the adapter for
// the given mode. A failure here is fatal for the run: it wraps
// analysis.ErrSessionUnavailable.
func New(ctx context.Context, cfg Config, mode domain.Mode) (*Session, error) {
	cfg.defaults()

	if _, err := os.Stat(cfg.BaseModelPath); err != nil {
		return nil, fmt.Errorf("%w: base model: %v", domain.ErrSessionUnavailable, err)
	}
	for m, p := range cfg.AdapterPaths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("%w: %s adapter: %v", domain.ErrSessionUnavailable, m, err)
		}
	}

	clientCfg := openai.DefaultConfig("")
	clientCfg.BaseURL = fmt.Sprintf("http://%s:%d/v1", cfg.Host, cfg.Port)

	s := &Session{
		cfg:    cfg,
		client: openai.NewClientWithConfig(clientCfg),
	}
	if err := s.start(ctx, mode); err != nil {
		return nil, err
	}
	return s, nil
}

// start launches llama-server for the given mode and waits until its health
// endpoint reports ready. Callers hold s.mu or have exclusive access.
func (s *Session) start(ctx context.Context, mode domain.Mode) error {
	args := []string{
		"--model", s.cfg.BaseModelPath,
		"--ctx-size", strconv.Itoa(s.cfg.ContextLen),
		"--n-gpu-layers", strconv.Itoa(s.cfg.GPULayers),
		"--host", s.cfg.Host,
		"--port", strconv.Itoa(s.cfg.Port),
	}
	if s.cfg.Threads > 0 {
		args = append(args, "--threads", strconv.Itoa(s.cfg.Threads))
	}
	if adapter := s.cfg.AdapterPaths[mode]; adapter != "" {
		args = append(args, "--lora", adapter)
	}
	if s.cfg.KVCache4Bit {
		args = append(args, "--cache-type-k", "q4_0", "--cache-type-v", "q4_0")
	}

	cmd := exec.Command(s.cfg.ServerBin, args...)
	// Stdout/Stderr stay nil so exec wires /dev/null directly; io.Discard
	// would add pipes that keep Wait blocked while any descendant lives.
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: start %s: %v", domain.ErrSessionUnavailable, s.cfg.ServerBin, err)
	}
	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()
	s.cmd = cmd
	s.exited = exited
	s.mode = mode

	if err := s.waitReady(ctx); err != nil {
		s.stop()
		return err
	}
	log.Printf("event=model_loaded mode=%s ctx=%d gpu_layers=%d adapter=%s",
		mode, s.cfg.ContextLen, s.cfg.GPULayers, s.cfg.AdapterPaths[mode])
	return nil
}

func (s *Session) waitReady(ctx context.Context) error {
	deadline := time.Now().Add(s.cfg.StartTimeout)
	url := fmt.Sprintf("http://%s:%d/health", s.cfg.Host, s.cfg.Port)
	httpc := &http.Client{Timeout: 2 * time.Second}

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrSessionUnavailable, err)
		}
		resp, err := httpc.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-s.exited:
			// Bad model, OOM, port clash: no point polling until the timeout.
			return fmt.Errorf("%w: server exited during startup", domain.ErrSessionUnavailable)
		case <-ctx.Done():
		case <-time.After(500 * time.Millisecond):
		}
	}
	return fmt.Errorf("%w: server did not become ready within %s", domain.ErrSessionUnavailable, s.cfg.StartTimeout)
}

func (s *Session) stop() {
	if s.cmd == nil || s.cmd.Process == nil {
		return
	}
	_ = s.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-s.exited:
	case <-time.After(10 * time.Second):
		_ = s.cmd.Process.Kill()
		<-s.exited
	}
	s.cmd = nil
	s.exited = nil
}

// Generate runs one chat completion. If the requested mode differs from the
// attached adapter the server is restarted first; the scheduler's gate
// guarantees no other generation is in flight during the swap.
func (s *Session) Generate(ctx context.Context, req domain.GenerationRequest) (domain.GenerationResult, error) {
	s.mu.Lock()
	if s.cmd == nil {
		s.mu.Unlock()
		return domain.GenerationResult{}, domain.ErrSessionUnavailable
	}
	if req.Mode != s.mode {
		log.Printf("event=adapter_swap from=%s to=%s", s.mode, req.Mode)
		s.stop()
		if err := s.start(ctx, req.Mode); err != nil {
			s.mu.Unlock()
			return domain.GenerationResult{}, err
		}
	}
	s.mu.Unlock()

	start := time.Now()
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       "swingft-analyzer",
		Temperature: s.cfg.Temperature,
		TopP:        s.cfg.TopP,
		MaxTokens:   req.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
	})
	if err != nil {
		return domain.GenerationResult{}, classify(err)
	}
	if len(resp.Choices) == 0 {
		return domain.GenerationResult{}, errors.New("model returned no choices")
	}
	return domain.GenerationResult{
		RawText:    resp.Choices[0].Message.Content,
		TokenCount: resp.Usage.CompletionTokens,
		DurationMS: time.Since(start).Milliseconds(),
	}, nil
}

// classify maps llama-server errors onto the domain taxonomy. Context
// overflow comes back as a 400 mentioning the context window.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		msg := strings.ToLower(fmt.Sprintf("%v", apiErr.Message))
		if strings.Contains(msg, "context") || strings.Contains(msg, "exceed") {
			return fmt.Errorf("%w: %v", domain.ErrContextOverflow, apiErr.Message)
		}
	}
	return fmt.Errorf("chat completion: %w", err)
}

// Close terminates the server process. Subsequent Generate calls fail with
// ErrSessionUnavailable.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stop()
	return nil
}
