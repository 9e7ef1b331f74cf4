package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ziadkadry99/ragpipe/internal/config"
	"github.com/ziadkadry99/ragpipe/internal/rag"
)

// MockProvider is a test provider that records calls and returns canned responses.
type MockProvider struct {
	mu       sync.Mutex
	Calls    []CompletionRequest
	Response *CompletionResponse
	Errs     []error // returned in order, one per call, before Response
	ProvName string
}

func NewMockProvider(name string) *MockProvider {
	return &MockProvider{
		ProvName: name,
		Response: &CompletionResponse{
			Content:      "  mock response\n",
			Model:        "mock-model",
			FinishReason: "stop",
			Usage:        Usage{InputTokens: 10, OutputTokens: 20},
		},
	}
}

func (m *MockProvider) Name() string {
	return m.ProvName
}

func (m *MockProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, req)
	if len(m.Errs) > 0 {
		err := m.Errs[0]
		m.Errs = m.Errs[1:]
		return nil, err
	}
	return m.Response, nil
}

func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

func fastRetry() rag.RetryPolicy {
	return rag.RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond}
}

// --- Factory ---

func TestFactoryReturnsErrorForMissingAPIKey(t *testing.T) {
	for _, p := range []config.ProviderType{config.ProviderAnthropic, config.ProviderOpenAI} {
		_, err := NewProvider(config.LLMConfig{Provider: p, Model: "m"})
		if err == nil {
			t.Fatalf("%s: expected error for missing API key", p)
		}
		if !rag.IsKind(err, rag.KindConfiguration) {
			t.Errorf("%s: expected configuration error, got %v", p, err)
		}
	}
}

func TestFactoryReturnsErrorForUnknownProvider(t *testing.T) {
	_, err := NewProvider(config.LLMConfig{Provider: "google", Model: "gemini"})
	if err == nil {
		t.Fatal("expected error for unsupported provider")
	}
	if !rag.IsKind(err, rag.KindConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestFactoryCreatesOllamaWithDefaultHost(t *testing.T) {
	p, err := NewProvider(config.LLMConfig{Provider: config.ProviderOllama, Model: "llama3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ollamaP, ok := p.(*OllamaProvider)
	if !ok {
		t.Fatalf("expected *OllamaProvider, got %T", p)
	}
	if ollamaP.baseURL != DefaultOllamaHost {
		t.Errorf("expected default host, got %q", ollamaP.baseURL)
	}
}

func TestFactoryCreatesOllamaWithBaseURL(t *testing.T) {
	p, err := NewProvider(config.LLMConfig{Provider: config.ProviderOllama, Model: "llama3", BaseURL: "http://gpu:11434"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := p.(*OllamaProvider).baseURL; got != "http://gpu:11434" {
		t.Errorf("expected configured host, got %q", got)
	}
}

func TestFactoryCreatesAnthropicProvider(t *testing.T) {
	p, err := NewProvider(config.LLMConfig{Provider: config.ProviderAnthropic, Model: "claude", APIKey: "k", BaseURL: "http://proxy"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ap, ok := p.(*AnthropicProvider)
	if !ok {
		t.Fatalf("expected *AnthropicProvider, got %T", p)
	}
	if ap.endpoint != "http://proxy/v1/messages" {
		t.Errorf("unexpected endpoint %q", ap.endpoint)
	}
	if p.Name() != "anthropic" {
		t.Errorf("expected name 'anthropic', got %q", p.Name())
	}
}

func TestFactoryCreatesOpenAIProvider(t *testing.T) {
	p, err := NewProvider(config.LLMConfig{Provider: config.ProviderOpenAI, Model: "gpt-4o-mini", APIKey: "sk"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "openai" {
		t.Errorf("expected name 'openai', got %q", p.Name())
	}
}

// --- HTTP providers ---

func TestAnthropicComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "key" {
			t.Errorf("missing api key header")
		}
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if req.System != "be brief" || len(req.Messages) != 1 {
			t.Errorf("unexpected request: %+v", req)
		}
		w.Write([]byte(`{"content":[{"type":"text","text":"Paris"}],"model":"claude","stop_reason":"end_turn","usage":{"input_tokens":7,"output_tokens":1}}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("key", "claude")
	p.endpoint = srv.URL
	resp, err := p.Complete(context.Background(), CompletionRequest{Messages: []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "capital of France?"},
	}})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "Paris" || resp.InputTokens != 7 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestAnthropicStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", 529)
	}))
	defer srv.Close()

	p := NewAnthropicProvider("key", "claude")
	p.endpoint = srv.URL
	_, err := p.Complete(context.Background(), CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != 529 {
		t.Fatalf("expected StatusError 529, got %v", err)
	}
	if !IsTransient(err) {
		t.Error("expected 529 to be transient")
	}
}

func TestOllamaComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"message":{"role":"assistant","content":"hello"},"model":"llama3","done":true,"done_reason":"stop","prompt_eval_count":4,"eval_count":1}`))
	}))
	defer srv.Close()

	resp, err := NewOllamaProvider(srv.URL, "llama3").Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "hello" || resp.OutputTokens != 1 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestOpenAICompleteWithBaseURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"local","choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("", "local", srv.URL+"/v1")
	resp, err := p.Complete(context.Background(), CompletionRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "ok" || resp.FinishReason != "stop" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", &StatusError{StatusCode: 429}, true},
		{"server error", &StatusError{StatusCode: 502}, true},
		{"bad request", &StatusError{StatusCode: 400}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		if got := IsTransient(tt.err); got != tt.want {
			t.Errorf("%s: IsTransient = %v, want %v", tt.name, got, tt.want)
		}
	}
}

// --- Answer generation ---

func TestAnswerPrompt(t *testing.T) {
	got := AnswerPrompt("What is Go?", []string{"Go is a language.", "It has goroutines."})
	want := "Context: Go is a language.\n\nIt has goroutines.\n\nQuestion: What is Go?\n\n" + answerInstruction
	if got != want {
		t.Errorf("AnswerPrompt mismatch:\n got %q\nwant %q", got, want)
	}
}

func TestAnswererGenerate(t *testing.T) {
	mock := NewMockProvider("mock")
	a := NewAnswerer(mock, AnswererOptions{MaxTokens: 256, Temperature: 0.2, Retry: fastRetry()})

	answer, err := a.Generate(context.Background(), "q", []string{"p1"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if answer != "mock response" {
		t.Errorf("expected trimmed answer, got %q", answer)
	}
	req := mock.Calls[0]
	if req.MaxTokens != 256 || req.Temperature != 0.2 {
		t.Errorf("options not forwarded: %+v", req)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != RoleUser {
		t.Errorf("unexpected messages: %+v", req.Messages)
	}
	if req.System != answerSystem {
		t.Errorf("system prompt = %q", req.System)
	}
}

func TestAnswererRetriesTransientFailures(t *testing.T) {
	mock := NewMockProvider("mock")
	mock.Errs = []error{&StatusError{Provider: "mock", StatusCode: 503}}
	a := NewAnswerer(mock, AnswererOptions{Retry: fastRetry()})

	if _, err := a.Generate(context.Background(), "q", nil); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if mock.CallCount() != 2 {
		t.Errorf("expected 2 calls, got %d", mock.CallCount())
	}
}

func TestAnswererStopsOnFatalFailure(t *testing.T) {
	mock := NewMockProvider("mock")
	mock.Errs = []error{&StatusError{Provider: "mock", StatusCode: 401}}
	a := NewAnswerer(mock, AnswererOptions{Retry: fastRetry()})

	_, err := a.Generate(context.Background(), "q", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !rag.IsKind(err, rag.KindGeneration) {
		t.Errorf("expected generation error, got %v", err)
	}
	if mock.CallCount() != 1 {
		t.Errorf("expected a single call, got %d", mock.CallCount())
	}
}

func TestSplitSystem(t *testing.T) {
	req := CompletionRequest{
		System: "base",
		Messages: []Message{
			{Role: RoleSystem, Content: "extra"},
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, Content: "hello"},
		},
	}

	system, turns := req.splitSystem()
	if system != "base\n\nextra" {
		t.Errorf("system = %q", system)
	}
	if len(turns) != 2 || turns[0].Role != RoleUser || turns[1].Role != RoleAssistant {
		t.Errorf("unexpected turns: %+v", turns)
	}

	msgs := req.withSystemTurn()
	if len(msgs) != 3 || msgs[0].Role != RoleSystem || msgs[0].Content != system {
		t.Errorf("unexpected leading system turn: %+v", msgs)
	}
	if got := (CompletionRequest{Messages: turns}).withSystemTurn(); len(got) != 2 {
		t.Errorf("no system turn expected, got %+v", got)
	}
}

func TestWithDefaults(t *testing.T) {
	req := CompletionRequest{}.withDefaults("m")
	if req.Model != "m" || req.MaxTokens != DefaultMaxTokens {
		t.Errorf("unexpected defaults: %+v", req)
	}
	req = CompletionRequest{Model: "x", MaxTokens: 10}.withDefaults("m")
	if req.Model != "x" || req.MaxTokens != 10 {
		t.Errorf("explicit values overwritten: %+v", req)
	}
}

func TestAnswererRateLimit(t *testing.T) {
	mock := NewMockProvider("mock")
	a := NewAnswerer(mock, AnswererOptions{Retry: fastRetry(), RateLimit: 0.001, RateBurst: 1})

	if _, err := a.Generate(context.Background(), "first", nil); err != nil {
		t.Fatalf("first Generate: %v", err)
	}

	// The burst is spent; the next token is far past the deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := a.Generate(ctx, "second", nil); err == nil {
		t.Fatal("expected rate limiter to refuse the second call")
	}
	if mock.CallCount() != 1 {
		t.Errorf("expected 1 provider call, got %d", mock.CallCount())
	}
}
