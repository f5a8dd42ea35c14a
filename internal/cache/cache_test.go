package cache

import (
	"strings"
	"testing"
	"time"

	"github.com/law-makers/deepcrawl/pkg/models"
)

func result(url string, body int) *models.FetchResult {
	return &models.FetchResult{URL: url, RawContent: strings.Repeat("x", body), Success: true}
}

func TestMemoryCache_GetSet(t *testing.T) {
	c := NewMemoryCache(0)
	defer c.Close()

	if _, ok := c.Get("https://example.com/"); ok {
		t.Fatal("empty cache returned a hit")
	}
	if err := c.Set("https://example.com/", result("https://example.com/", 10), time.Minute); err != nil {
		t.Fatal(err)
	}
	got, ok := c.Get("https://example.com/")
	if !ok || got.URL != "https://example.com/" {
		t.Fatalf("expected hit, got %v %v", got, ok)
	}

	st := c.Stats()
	if st.Hits != 1 || st.Misses != 1 || st.Entries != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
	if st.HitRate() != 50 {
		t.Errorf("hit rate = %v, want 50", st.HitRate())
	}
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache(0)
	defer c.Close()

	c.Set("k", result("k", 1), time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("expired entry returned")
	}
	if st := c.Stats(); st.Entries != 0 || st.Size != 0 {
		t.Errorf("expired entry not removed: %+v", st)
	}
}

func TestMemoryCache_EvictsLRU(t *testing.T) {
	// Each entry is 1024 bytes of overhead plus body.
	c := NewMemoryCache(3 * 1100)
	defer c.Close()

	c.Set("a", result("a", 10), time.Minute)
	c.Set("b", result("b", 10), time.Minute)
	c.Set("c", result("c", 10), time.Minute)

	c.Get("a")
	c.Set("d", result("d", 10), time.Minute)

	if _, ok := c.Get("b"); ok {
		t.Error("least recently used entry survived eviction")
	}
	for _, k := range []string{"a", "c", "d"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("entry %s evicted unexpectedly", k)
		}
	}
}

func TestMemoryCache_OverwriteKeepsSizeAccurate(t *testing.T) {
	c := NewMemoryCache(0)
	defer c.Close()

	c.Set("k", result("k", 500), time.Minute)
	first := c.Stats().Size
	c.Set("k", result("k", 500), time.Minute)
	if c.Stats().Size != first {
		t.Errorf("size drifted on overwrite: %d != %d", c.Stats().Size, first)
	}
	c.Delete("k")
	if c.Stats().Size != 0 {
		t.Errorf("size after delete = %d", c.Stats().Size)
	}
}

func TestMode(t *testing.T) {
	if !ModeEnabled.Reads() || !ModeEnabled.Writes() {
		t.Error("enabled should read and write")
	}
	if ModeRefresh.Reads() || !ModeRefresh.Writes() {
		t.Error("refresh should only write")
	}
	if ModeBypass.Reads() || ModeBypass.Writes() {
		t.Error("bypass should do neither")
	}
}
