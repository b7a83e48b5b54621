package recency

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"igbatch/pkg/instagram"
)

var now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func post(name string, age time.Duration) instagram.Post {
	return instagram.Post{URL: "https://www.instagram.com/p/" + name + "/", Date: now.Add(-age)}
}

func urls(posts []instagram.Post) []string {
	out := make([]string, len(posts))
	for i, p := range posts {
		out[i] = p.URL
	}
	return out
}

func TestIsRecentBoundary(t *testing.T) {
	w := NewWindow(Hours(24), 3, now)

	assert.True(t, w.IsRecent(post("edge", 24*time.Hour)), "a post exactly at the cutoff is recent")
	assert.False(t, w.IsRecent(post("old", 24*time.Hour+time.Second)))
	assert.Equal(t, now.Add(-24*time.Hour), w.Cutoff())
}

func TestPinnedPostsFollowedByRecentPosts(t *testing.T) {
	feed := []instagram.Post{
		post("pin1", 10*24*time.Hour),
		post("pin2", 10*24*time.Hour),
		post("pin3", 10*24*time.Hour),
		post("r1", 1*time.Hour),
		post("r2", 3*time.Hour),
		post("r3", 5*time.Hour),
		post("r4", 8*time.Hour),
		post("r5", 11*time.Hour),
		post("old1", 30*time.Hour),
		post("old2", 40*time.Hour),
	}

	w := NewWindow(Hours(24), 3, now)
	batches := 0
	for i := 0; i < len(feed); i += 3 {
		end := min(i+3, len(feed))
		batches++
		if w.Add(feed[i:end]) {
			break
		}
	}

	results := w.Results()
	require.Len(t, results, 8)
	assert.Equal(t, []string{
		"https://www.instagram.com/p/r1/",
		"https://www.instagram.com/p/r2/",
		"https://www.instagram.com/p/r3/",
		"https://www.instagram.com/p/r4/",
		"https://www.instagram.com/p/r5/",
		"https://www.instagram.com/p/pin1/",
		"https://www.instagram.com/p/pin2/",
		"https://www.instagram.com/p/pin3/",
	}, urls(results))
	assert.True(t, w.Stopped())
	assert.Equal(t, 3, batches, "the batch holding old1 is the last one")
	assert.Equal(t, batches, w.Batches())
}

func TestPinnedAllowanceNeverExcludes(t *testing.T) {
	for k := 0; k <= 5; k++ {
		t.Run(fmt.Sprintf("K=%d", k), func(t *testing.T) {
			w := NewWindow(Hours(12), k, now)
			var batch []instagram.Post
			for i := 0; i < k; i++ {
				batch = append(batch, post(fmt.Sprintf("pin%d", i), 100*time.Hour))
			}
			stop := w.Add(batch)

			assert.False(t, stop, "old posts inside the pinned window never stop the crawl")
			assert.Len(t, w.Results(), k)
		})
	}
}

func TestNoOldPostPastPinnedWindow(t *testing.T) {
	feed := []instagram.Post{
		post("p1", 50*time.Hour),
		post("a", 2*time.Hour),
		post("old", 13*time.Hour),
		post("b", 4*time.Hour),
		post("c", 6*time.Hour),
	}
	w := NewWindow(Hours(12), 1, now)
	stop := w.Add(feed)

	assert.True(t, stop)
	for i, p := range w.Results() {
		if p.URL == "https://www.instagram.com/p/p1/" {
			continue
		}
		assert.False(t, p.Date.Before(w.Cutoff()), "result %d is older than the cutoff", i)
	}
	assert.NotContains(t, urls(w.Results()), "https://www.instagram.com/p/old/")
	assert.Contains(t, urls(w.Results()), "https://www.instagram.com/p/c/", "recent posts in the stopping batch are kept")
}

func TestStopIsFinal(t *testing.T) {
	w := NewWindow(Hours(12), 0, now)
	require.True(t, w.Add([]instagram.Post{post("old", 20*time.Hour)}))

	assert.True(t, w.Add([]instagram.Post{post("fresh", time.Hour)}))
	assert.Equal(t, 1, w.Batches())
	assert.Equal(t, 1, w.Examined())
	assert.Empty(t, w.Results())
}

func TestResultsSortedNewestFirst(t *testing.T) {
	w := NewWindow(Hours(24), 0, now)
	w.Add([]instagram.Post{post("mid", 5*time.Hour), post("newest", time.Hour), post("oldest", 20*time.Hour)})
	w.Add([]instagram.Post{post("second", 2*time.Hour)})

	assert.Equal(t, []string{
		"https://www.instagram.com/p/newest/",
		"https://www.instagram.com/p/second/",
		"https://www.instagram.com/p/mid/",
		"https://www.instagram.com/p/oldest/",
	}, urls(w.Results()))
	assert.False(t, w.Stopped())
}

func TestNegativePinnedAllowance(t *testing.T) {
	w := NewWindow(Hours(1), -2, now)
	assert.True(t, w.Add([]instagram.Post{post("old", 2*time.Hour)}))
}

func TestFilterRecent(t *testing.T) {
	feed := []instagram.Post{
		post("pin", 90*time.Hour),
		post("a", time.Hour),
		post("b", 2*time.Hour),
		post("c", 3*time.Hour),
		post("old", 30*time.Hour),
		post("after", time.Hour),
	}

	results := FilterRecent(feed, 24, now)

	assert.Equal(t, []string{
		"https://www.instagram.com/p/a/",
		"https://www.instagram.com/p/b/",
		"https://www.instagram.com/p/c/",
		"https://www.instagram.com/p/pin/",
	}, urls(results))
	assert.NotContains(t, urls(results), "https://www.instagram.com/p/after/", "posts after the stop are never examined")
}
