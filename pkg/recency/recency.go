// Package recency keeps the posts of a profile that fall inside a time
// window and decides when crawling further posts is pointless.
//
// Posts arrive in display order in fixed-size batches. The first
// PinnedAllowance posts may be pinned and out of chronological order, so
// they are always kept and never end the crawl. PinnedAllowance defaults to
// 3; that value is an assumption about Instagram's feed, not something the
// package can verify. After the pinned section the feed is assumed to be
// newest first: the first batch holding a post older than the cutoff is the
// last one worth fetching.
package recency

import (
	"sort"
	"time"

	"igbatch/pkg/instagram"
)

// DefaultPinnedAllowance is how many leading posts may be pinned
const DefaultPinnedAllowance = 3

// Hours converts a threshold in hours to a duration
func Hours(n int) time.Duration {
	return time.Duration(n) * time.Hour
}

// Window accumulates batches for one profile. It is not safe for
// concurrent use.
type Window struct {
	cutoff   time.Time
	pinned   int
	examined int
	batches  int
	stopped  bool
	kept     []instagram.Post
}

// NewWindow keeps posts dated at or after now-threshold. A negative
// pinnedAllowance is treated as zero.
func NewWindow(threshold time.Duration, pinnedAllowance int, now time.Time) *Window {
	if pinnedAllowance < 0 {
		pinnedAllowance = 0
	}
	return &Window{cutoff: now.Add(-threshold), pinned: pinnedAllowance}
}

// Cutoff returns the oldest accepted post date
func (w *Window) Cutoff() time.Time {
	return w.cutoff
}

// IsRecent reports whether p is inside the window
func (w *Window) IsRecent(p instagram.Post) bool {
	return !p.Date.Before(w.cutoff)
}

// Add processes the next batch and reports whether the crawl should stop.
// Batches added after a stop are ignored.
func (w *Window) Add(batch []instagram.Post) (stop bool) {
	if w.stopped {
		return true
	}
	w.batches++

	for _, post := range batch {
		position := w.examined
		w.examined++

		switch {
		case position < w.pinned:
			w.kept = append(w.kept, post)
		case w.IsRecent(post):
			w.kept = append(w.kept, post)
		default:
			w.stopped = true
		}
	}
	return w.stopped
}

// Stopped reports whether a batch triggered early termination
func (w *Window) Stopped() bool {
	return w.stopped
}

// Examined returns how many posts were looked at
func (w *Window) Examined() int {
	return w.examined
}

// Batches returns how many batches were processed
func (w *Window) Batches() int {
	return w.batches
}

// Results returns the kept posts sorted newest first. Posts with the same
// date keep their arrival order.
func (w *Window) Results() []instagram.Post {
	out := make([]instagram.Post, len(w.kept))
	copy(out, w.kept)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.After(out[j].Date)
	})
	return out
}

// FilterRecent runs posts through a window one at a time with the default
// pinned allowance, so it stops at the first old post past the pinned
// section.
func FilterRecent(posts []instagram.Post, thresholdHours int, now time.Time) []instagram.Post {
	w := NewWindow(Hours(thresholdHours), DefaultPinnedAllowance, now)
	for _, post := range posts {
		if w.Add([]instagram.Post{post}) {
			break
		}
	}
	return w.Results()
}
