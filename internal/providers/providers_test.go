package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func fastRetry() RetryConfig {
	return RetryConfig{Attempts: 3, MinDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestOpenAIProvider_ChatSendsOptionsAndParses(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("authorization = %q", auth)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"<sentra-response></sentra-response>"},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":3,"total_tokens":13}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("openai", "sk-test", srv.URL+"/", "gpt-4o-mini")
	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "system", Content: "sys"}, {Role: "user", Content: "hi"}},
		Options:  map[string]interface{}{OptMaxTokens: 96, OptTemperature: 0},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "<sentra-response></sentra-response>" || resp.Usage.TotalTokens != 13 {
		t.Errorf("response = %+v", resp)
	}
	if got["model"] != "gpt-4o-mini" || got["max_tokens"] != float64(96) || got["temperature"] != float64(0) {
		t.Errorf("request body = %v", got)
	}
	if msgs, _ := got["messages"].([]interface{}); len(msgs) != 2 {
		t.Errorf("messages = %v", got["messages"])
	}
}

func TestOpenAIProvider_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("openai", "k", srv.URL, "m").WithRetry(fastRetry())
	resp, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "x"}}})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "ok" || resp.FinishReason != "stop" || calls.Load() != 3 {
		t.Errorf("content=%q finish=%q calls=%d", resp.Content, resp.FinishReason, calls.Load())
	}
}

func TestOpenAIProvider_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewOpenAIProvider("openai", "k", srv.URL, "m").WithRetry(fastRetry())
	_, err := p.Chat(context.Background(), ChatRequest{})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusUnauthorized {
		t.Fatalf("err = %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestAnthropicProvider_SplitsSystemMessages(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" || r.Header.Get("x-api-key") != "ak" || r.Header.Get("anthropic-version") == "" {
			t.Errorf("unexpected request %s %v", r.URL.Path, r.Header)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"a"},{"type":"text","text":"b"}],"stop_reason":"max_tokens","usage":{"input_tokens":4,"output_tokens":2}}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("ak", WithAnthropicBaseURL(srv.URL), WithAnthropicModel("claude-test"))
	resp, err := p.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "system", Content: "s1"}, {Role: "system", Content: "s2"}, {Role: "user", Content: "u"}},
		Options:  map[string]interface{}{OptMaxTokens: 128},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "ab" || resp.FinishReason != "length" || resp.Usage.TotalTokens != 6 {
		t.Errorf("response = %+v", resp)
	}
	if sys, _ := got["system"].([]interface{}); len(sys) != 2 {
		t.Errorf("system = %v", got["system"])
	}
	if msgs, _ := got["messages"].([]interface{}); len(msgs) != 1 {
		t.Errorf("messages = %v", got["messages"])
	}
	if got["model"] != "claude-test" || got["max_tokens"] != float64(128) {
		t.Errorf("body = %v", got)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if d := ParseRetryAfter("3"); d != 3*time.Second {
		t.Errorf("seconds: %v", d)
	}
	if d := ParseRetryAfter(""); d != 0 {
		t.Errorf("empty: %v", d)
	}
	if d := ParseRetryAfter("soon"); d != 0 {
		t.Errorf("garbage: %v", d)
	}
	future := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	if d := ParseRetryAfter(future); d <= 0 || d > time.Minute {
		t.Errorf("http date: %v", d)
	}
}

func TestRetryDo_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := RetryDo(ctx, RetryConfig{Attempts: 5, MinDelay: time.Hour}, func() (int, error) {
		calls++
		cancel()
		return 0, &HTTPError{Status: 500}
	})
	if err == nil || calls != 1 {
		t.Errorf("err=%v calls=%d", err, calls)
	}
}

type countingProvider struct{ calls atomic.Int32 }

func (c *countingProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	c.calls.Add(1)
	return &ChatResponse{Content: "ok"}, nil
}
func (c *countingProvider) DefaultModel() string { return "m" }
func (c *countingProvider) Name() string         { return "counting" }

func TestWithRateLimit(t *testing.T) {
	inner := &countingProvider{}
	if WithRateLimit(inner, 0, 0) != Provider(inner) {
		t.Error("non-positive rate must return the provider unchanged")
	}

	limited := WithRateLimit(inner, 0.001, 1)
	if _, err := limited.Chat(context.Background(), ChatRequest{}); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := limited.Chat(ctx, ChatRequest{}); err == nil {
		t.Error("second call should fail waiting for a token")
	}
	if inner.calls.Load() != 1 {
		t.Errorf("inner calls = %d, want 1", inner.calls.Load())
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(&countingProvider{})
	r.Register(NewOpenAIProvider("openai", "", "", "m"))
	if _, err := r.Get("missing"); !errors.Is(err, ErrNoProvider) {
		t.Errorf("err = %v", err)
	}
	if names := r.List(); len(names) != 2 || names[0] != "counting" {
		t.Errorf("names = %v", names)
	}
}
