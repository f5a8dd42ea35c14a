package proxy

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func next(t *testing.T, p *Pool) string {
	t.Helper()
	u := p.Next()
	if u == nil {
		t.Fatal("expected a proxy, got nil")
	}
	return u.Host
}

func TestPool_Rotation(t *testing.T) {
	pool, err := NewPool([]string{"http://p1:8080", "http://p2:8080", "http://p3:8080"}, 0)
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{"p1:8080", "p2:8080", "p3:8080", "p1:8080"} {
		if got := next(t, pool); got != want {
			t.Errorf("Expected %s, got %s", want, got)
		}
	}

	// Current index is at p2.
	pool.MarkFailed(pool.proxies[1])
	if got := next(t, pool); got != "p3:8080" {
		t.Errorf("Expected p3 (skipping p2), got %s", got)
	}
	if got := next(t, pool); got != "p1:8080" {
		t.Errorf("Expected p1, got %s", got)
	}
	if got := next(t, pool); got != "p3:8080" {
		t.Errorf("Expected p3, got %s", got)
	}

	pool.MarkHealthy(pool.proxies[1])
	if got := next(t, pool); got != "p1:8080" {
		t.Errorf("Expected p1, got %s", got)
	}
	if got := next(t, pool); got != "p2:8080" {
		t.Errorf("Expected p2, got %s", got)
	}
}

func TestPool_CooldownExpires(t *testing.T) {
	pool, err := NewPool([]string{"http://p1:1", "http://p2:1"}, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	pool.now = func() time.Time { return now }

	pool.MarkFailed(pool.proxies[0])
	if got := next(t, pool); got != "p2:1" {
		t.Errorf("Expected p2 while p1 is benched, got %s", got)
	}

	now = now.Add(2 * time.Minute)
	if got := next(t, pool); got != "p1:1" {
		t.Errorf("Expected p1 after cooldown, got %s", got)
	}
}

func TestPool_EmptyAndInvalid(t *testing.T) {
	pool, err := NewPool(nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if pool.Next() != nil {
		t.Error("empty pool should return nil")
	}
	if _, err := NewPool([]string{"::not a url"}, 0); err == nil {
		t.Error("expected error for malformed proxy")
	}
}

func TestFromRequest(t *testing.T) {
	pool, _ := NewPool([]string{"http://pinned:3128"}, 0)
	req, _ := http.NewRequest(http.MethodGet, "http://example.com/", nil)
	req = req.WithContext(WithProxy(context.Background(), pool.Next()))

	u, err := FromRequest(req)
	if err != nil {
		t.Fatal(err)
	}
	if u == nil || u.Host != "pinned:3128" {
		t.Errorf("expected pinned proxy, got %v", u)
	}
}
