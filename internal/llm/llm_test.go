package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/law-makers/deepcrawl/internal/retry"
)

func TestParseProvider(t *testing.T) {
	p, err := ParseProvider("openai/gpt-4o", "")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "openai" || p.Model != "gpt-4o" || p.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("unexpected provider %+v", p)
	}
	if p.EnvKey() != "OPENAI_API_KEY" {
		t.Errorf("env key = %s", p.EnvKey())
	}

	p, err = ParseProvider("groq/llama-3.1-70b/versatile", "")
	if err != nil {
		t.Fatal(err)
	}
	if p.Model != "llama-3.1-70b/versatile" {
		t.Errorf("model should keep everything after the first slash, got %s", p.Model)
	}

	if _, err := ParseProvider("gpt-4o", ""); err == nil {
		t.Error("expected error without provider prefix")
	}
	if _, err := ParseProvider("acme/model", ""); err == nil {
		t.Error("expected error for unknown provider without base URL")
	}
	p, err = ParseProvider("acme/model", "http://localhost:9000/v1/")
	if err != nil || p.BaseURL != "http://localhost:9000/v1" {
		t.Errorf("custom base URL not honoured: %+v %v", p, err)
	}
}

func TestResolveAPIKey_Order(t *testing.T) {
	p, _ := ParseProvider("deepseek/chat", "")
	store := NewFileKeyStore(t.TempDir())
	t.Setenv("DEEPSEEK_API_KEY", "from-env")

	key, err := ResolveAPIKey(p, "", store)
	if err != nil || key != "from-env" {
		t.Errorf("expected env key, got %q %v", key, err)
	}

	if err := store.Save("deepseek", "from-store"); err != nil {
		t.Fatal(err)
	}
	key, _ = ResolveAPIKey(p, "", store)
	if key != "from-store" {
		t.Errorf("store should win over env, got %q", key)
	}

	key, _ = ResolveAPIKey(p, "explicit", store)
	if key != "explicit" {
		t.Errorf("explicit token should win, got %q", key)
	}

	t.Setenv("DEEPSEEK_API_KEY", "")
	store.Delete("deepseek")
	_, err = ResolveAPIKey(p, "", store)
	if !errors.Is(err, ErrNoCredentials) {
		t.Errorf("expected ErrNoCredentials, got %v", err)
	}
	if err != nil && !strings.Contains(err.Error(), "deepcrawl credentials set deepseek") {
		t.Errorf("error should name the credentials command, got %q", err)
	}

	local, _ := ParseProvider("ollama/llama3", "")
	if key, err := ResolveAPIKey(local, "", store); err != nil || key != "" {
		t.Errorf("local provider should not need a key, got %q %v", key, err)
	}
}

func TestKeyStore_List(t *testing.T) {
	store := NewFileKeyStore(t.TempDir())
	store.Save("openai", "k1")
	store.Save("groq", "k2")

	names, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 {
		t.Errorf("expected 2 stored providers, got %v", names)
	}
	if err := store.Save("../escape", "x"); err == nil {
		t.Error("expected error for path-like provider name")
	}
}

func completionServer(t *testing.T, handler func(w http.ResponseWriter, req chatRequest)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		handler(w, req)
	}))
}

func fastRetry() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	return cfg
}

func TestClient_Complete(t *testing.T) {
	var auth string
	server := completionServer(t, func(w http.ResponseWriter, req chatRequest) {
		if req.Model != "test-model" || len(req.Messages) != 2 || req.Messages[0].Content != "summarize" {
			t.Errorf("unexpected request %+v", req)
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"# Clean"}}]}`))
	})
	defer server.Close()

	c := NewClient(Options{
		Provider: Provider{Name: "test", Model: "test-model", BaseURL: server.URL},
		APIKey:   "secret",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			auth = r.Header.Get("Authorization")
			return http.DefaultTransport.RoundTrip(r)
		})},
		Retry: fastRetry(),
	})

	out, err := c.Complete(context.Background(), "summarize", "<p>hello</p>")
	if err != nil {
		t.Fatal(err)
	}
	if out != "# Clean" {
		t.Errorf("output = %q", out)
	}
	if auth != "Bearer secret" {
		t.Errorf("authorization header = %q", auth)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestClient_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := completionServer(t, func(w http.ResponseWriter, _ chatRequest) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":{"message":"slow down"}}`))
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	})
	defer server.Close()

	c := NewClient(Options{Provider: Provider{Name: "t", Model: "m", BaseURL: server.URL}, Retry: fastRetry()})
	out, err := c.Complete(context.Background(), "i", "c")
	if err != nil || out != "ok" {
		t.Fatalf("expected success after retries, got %q %v", out, err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := completionServer(t, func(w http.ResponseWriter, _ chatRequest) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key"}}`))
	})
	defer server.Close()

	c := NewClient(Options{Provider: Provider{Name: "t", Model: "m", BaseURL: server.URL}, Retry: fastRetry()})
	_, err := c.Complete(context.Background(), "i", "c")
	var sc retry.StatusCoder
	if !errors.As(err, &sc) || sc.GetStatusCode() != http.StatusUnauthorized {
		t.Errorf("expected 401 status error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("401 should not be retried, got %d calls", calls.Load())
	}
}
