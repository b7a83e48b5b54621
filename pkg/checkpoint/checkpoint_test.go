package checkpoint

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"igbatch/pkg/batch"
	errs "igbatch/pkg/errors"
	"igbatch/pkg/instagram"
	"igbatch/pkg/logger"
	"igbatch/pkg/scraper"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), logger.NewNopLogger())
	require.NoError(t, err)
	return m
}

func success(username string, posts int) scraper.AccountResult {
	r := scraper.AccountResult{Success: true, Username: username}
	for i := 0; i < posts; i++ {
		r.Posts = append(r.Posts, instagram.Post{URL: instagram.PostURL(username + "p")})
	}
	r.RecentPostsCount = posts
	return r
}

func TestCheckpointManager(t *testing.T) {
	t.Run("CreateAndLoad", func(t *testing.T) {
		mgr := newManager(t)

		loaded, err := mgr.Load()
		require.NoError(t, err)
		assert.Nil(t, loaded, "no checkpoint yet")

		cp, err := mgr.Create([]string{"clubA", "clubB"}, 24)
		require.NoError(t, err)
		assert.True(t, mgr.Exists())
		assert.Len(t, cp.Results, 2)

		loaded, err = mgr.Load()
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, []string{"clubA", "clubB"}, loaded.Usernames)
		assert.Equal(t, 24, loaded.TimeThreshold)
		assert.Equal(t, Version, loaded.Version)
		assert.Zero(t, loaded.Completed())
	})

	t.Run("RecordKeepsOnlyFinalResults", func(t *testing.T) {
		mgr := newManager(t)
		cp, err := mgr.Create([]string{"clubA", "clubB", "clubC", "clubD"}, 12)
		require.NoError(t, err)

		require.NoError(t, mgr.Record(cp, 0, success("clubA", 2)))
		require.NoError(t, mgr.Record(cp, 1, scraper.Failed("clubB", errs.ErrorTypePrivate, "private", "private")))
		require.NoError(t, mgr.Record(cp, 2, scraper.Failed("clubC", errs.ErrorTypeTimeout, "timeout", "timeout")))
		assert.Error(t, mgr.Record(cp, 9, success("clubZ", 1)))

		loaded, err := mgr.Load()
		require.NoError(t, err)
		assert.Equal(t, 2, loaded.Completed())

		indexes, usernames := loaded.Pending()
		assert.Equal(t, []int{2, 3}, indexes)
		assert.Equal(t, []string{"clubC", "clubD"}, usernames)
	})

	t.Run("Delete", func(t *testing.T) {
		mgr := newManager(t)
		_, err := mgr.Create([]string{"clubA"}, 12)
		require.NoError(t, err)

		require.NoError(t, mgr.Delete())
		assert.False(t, mgr.Exists())
		require.NoError(t, mgr.Delete(), "deleting twice is fine")
	})

	t.Run("AtomicSave", func(t *testing.T) {
		mgr := newManager(t)
		_, err := mgr.Create([]string{"clubA"}, 12)
		require.NoError(t, err)

		_, err = os.Stat(mgr.Path() + ".tmp")
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("CorruptFile", func(t *testing.T) {
		mgr := newManager(t)
		require.NoError(t, os.WriteFile(mgr.Path(), []byte("{not json"), 0644))
		_, err := mgr.Load()
		assert.Error(t, err)
	})
}

func TestListenerMapsResumedPositions(t *testing.T) {
	mgr := newManager(t)
	cp, err := mgr.Create([]string{"clubA", "clubB", "clubC"}, 12)
	require.NoError(t, err)
	require.NoError(t, mgr.Record(cp, 1, success("clubB", 1)))

	positions, _ := cp.Pending()
	listen := mgr.Listener(cp, positions)

	clubC := success("clubC", 3)
	listen(batch.Event{Type: batch.EventAccountStarted, Index: 1, Username: "clubC"})
	listen(batch.Event{Type: batch.EventAccountFinished, Index: 1, Result: &clubC})

	require.NotNil(t, cp.Results[2])
	assert.Equal(t, "clubC", cp.Results[2].Username)
	assert.Nil(t, cp.Results[0])
}

func TestMerge(t *testing.T) {
	mgr := newManager(t)
	cp, err := mgr.Create([]string{"clubA", "clubB", "clubC"}, 12)
	require.NoError(t, err)
	require.NoError(t, mgr.Record(cp, 1, success("clubB", 2)))

	positions, _ := cp.Pending()
	resumed := &batch.Report{
		ID:         "resumed",
		Total:      2,
		Results:    []scraper.AccountResult{scraper.Failed("clubA", errs.ErrorTypeNotFound, "gone", "gone"), success("clubC", 1)},
		StartedAt:  time.Date(2026, 5, 20, 18, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2026, 5, 20, 18, 1, 0, 0, time.UTC),
	}

	merged := Merge(cp, positions, resumed)
	assert.Equal(t, "resumed", merged.ID)
	assert.Equal(t, 3, merged.Total)
	assert.Equal(t, 2, merged.SuccessCount)
	assert.Equal(t, 3, merged.TotalRecentPosts)
	assert.True(t, merged.Success)

	var names []string
	for _, r := range merged.Results {
		names = append(names, r.Username)
	}
	assert.Equal(t, []string{"clubA", "clubB", "clubC"}, names)
	assert.Equal(t, 2, resumed.Total, "the resumed report is not modified")
}
