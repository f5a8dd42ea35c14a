// Package scroll reconciles content revealed by repeatedly scrolling a page.
//
// Virtual lists render only what is on screen, so every scroll may append new
// rows or swap the visible rows out entirely. The reconciler keeps the union of
// everything seen, in discovery order.
package scroll

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"
)

// Classification describes how a snapshot relates to what was seen before.
type Classification int

const (
	// Unchanged means every item was already seen; scrolling stops.
	Unchanged Classification = iota
	// Appended means the snapshot extends the previous one.
	Appended
	// Replaced means the snapshot shares little with the previous one.
	Replaced
)

func (c Classification) String() string {
	switch c {
	case Appended:
		return "appended"
	case Replaced:
		return "replaced"
	default:
		return "unchanged"
	}
}

// DefaultReplaceOverlap is the overlap ratio with the previous snapshot below
// which a snapshot counts as Replaced.
const DefaultReplaceOverlap = 0.5

// Driver performs the page side of virtual scrolling.
type Driver interface {
	// Scroll advances the scroll container by one step.
	Scroll(ctx context.Context) error
	// Snapshot returns the items currently rendered, in document order.
	Snapshot(ctx context.Context) ([]string, error)
}

// Options configures Run.
type Options struct {
	MaxScrolls      int
	WaitAfterScroll time.Duration
	// ReplaceOverlap overrides DefaultReplaceOverlap when > 0.
	ReplaceOverlap float64
}

// State is the reconciler's record of a scroll session.
type State struct {
	Snapshots       [][]string
	ScrollCount     int
	LastContentHash string
}

// Reconciler accumulates snapshot items, deduplicated by normalized text.
type Reconciler struct {
	replaceOverlap float64

	seen  map[string]struct{}
	items []string
	prev  map[string]struct{}
	state State
}

// NewReconciler creates an empty reconciler.
func NewReconciler(replaceOverlap float64) *Reconciler {
	if replaceOverlap <= 0 || replaceOverlap > 1 {
		replaceOverlap = DefaultReplaceOverlap
	}
	return &Reconciler{
		replaceOverlap: replaceOverlap,
		seen:           make(map[string]struct{}),
	}
}

// Observe classifies snapshot and merges its new items.
func (r *Reconciler) Observe(snapshot []string) Classification {
	keys := make([]string, 0, len(snapshot))
	current := make(map[string]struct{}, len(snapshot))
	fresh := false
	for _, item := range snapshot {
		k := normalize(item)
		if k == "" {
			continue
		}
		keys = append(keys, k)
		current[k] = struct{}{}
		if _, ok := r.seen[k]; !ok {
			fresh = true
		}
	}

	r.state.Snapshots = append(r.state.Snapshots, snapshot)
	r.state.LastContentHash = contentHash(keys)

	if !fresh {
		r.prev = current
		return Unchanged
	}

	class := Appended
	if r.prev != nil && len(current) > 0 {
		shared := 0
		for k := range current {
			if _, ok := r.prev[k]; ok {
				shared++
			}
		}
		if float64(shared)/float64(len(current)) < r.replaceOverlap {
			class = Replaced
		}
	}

	for _, item := range snapshot {
		k := normalize(item)
		if k == "" {
			continue
		}
		if _, ok := r.seen[k]; ok {
			continue
		}
		r.seen[k] = struct{}{}
		r.items = append(r.items, item)
	}
	r.prev = current
	return class
}

// Items returns the accumulated items in discovery order, verbatim.
func (r *Reconciler) Items() []string {
	return append([]string(nil), r.items...)
}

// State returns a copy of the session state.
func (r *Reconciler) State() State {
	s := r.state
	s.Snapshots = append([][]string(nil), r.state.Snapshots...)
	return s
}

// Result is the outcome of a scroll session.
type Result struct {
	Items           []string
	State           State
	Classifications []Classification
}

// Run takes an initial snapshot, then scrolls up to opts.MaxScrolls times,
// stopping early as soon as a snapshot reveals nothing new.
func Run(ctx context.Context, d Driver, opts Options) (*Result, error) {
	if d == nil {
		return nil, errors.New("scroll driver is required")
	}
	rec := NewReconciler(opts.ReplaceOverlap)
	res := &Result{}

	snap, err := d.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("initial snapshot: %w", err)
	}
	rec.Observe(snap)

	for i := 0; i < opts.MaxScrolls; i++ {
		if err := d.Scroll(ctx); err != nil {
			return nil, fmt.Errorf("scroll %d: %w", i+1, err)
		}
		rec.state.ScrollCount++

		if err := wait(ctx, opts.WaitAfterScroll); err != nil {
			return nil, err
		}

		snap, err := d.Snapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("snapshot after scroll %d: %w", i+1, err)
		}
		class := rec.Observe(snap)
		res.Classifications = append(res.Classifications, class)

		log.Debug().
			Int("scroll", i+1).
			Int("items", len(snap)).
			Int("accumulated", len(rec.items)).
			Str("classification", class.String()).
			Msg("Virtual scroll step")

		if class == Unchanged {
			break
		}
	}

	res.Items = rec.Items()
	res.State = rec.State()
	return res, nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// normalize keys an item for membership only: markup is dropped, entities
// decoded, whitespace collapsed and case folded. Items with no text keep
// their markup as the key.
func normalize(s string) string {
	key := fold(textOf(s))
	if key == "" {
		key = fold(s)
	}
	return key
}

func fold(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// textOf returns the decoded text nodes of an HTML fragment, space separated.
// A '<' that does not open a tag stays text.
func textOf(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.Write(z.Text())
		default:
			b.WriteByte(' ')
		}
	}
}

func contentHash(keys []string) string {
	sum := sha256.Sum256([]byte(strings.Join(keys, "\n")))
	return hex.EncodeToString(sum[:])
}
