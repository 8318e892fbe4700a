package models

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFollowers(t *testing.T) {
	db := setupTestDB(t)
	followers := NewFollowers(db)

	t.Run("GetOrCreate makes one row per edge", func(t *testing.T) {
		require := require.New(t)

		lastFollow := map[string]any{
			"id":    "https://remote.example/follow/1",
			"actor": map[string]any{"id": "https://remote.example/alice", "inbox": "https://remote.example/alice/inbox"},
		}
		f, err := followers.GetOrCreate("site.example", "https://remote.example/alice", FollowerActive, lastFollow)
		require.NoError(err)
		require.Equal(FollowerActive, f.Status)

		// A second follow refreshes the stored activity, no new row.
		refreshed := map[string]any{
			"id":    "https://remote.example/follow/2",
			"actor": map[string]any{"id": "https://remote.example/alice", "inbox": "https://remote.example/alice/inbox"},
		}
		f, err = followers.GetOrCreate("site.example", "https://remote.example/alice", FollowerActive, refreshed)
		require.NoError(err)
		require.Equal("https://remote.example/follow/2", f.LastFollow["id"])

		var count int64
		require.NoError(db.Model(&Follower{}).Where("dest = ?", "site.example").Count(&count).Error)
		require.Equal(int64(1), count)
	})

	t.Run("Deactivate flips the edge, absent edges are a no-op", func(t *testing.T) {
		require := require.New(t)

		require.NoError(followers.Deactivate("site.example", "https://remote.example/alice"))
		active, err := followers.ActiveFollowers("site.example")
		require.NoError(err)
		require.Empty(active)

		// Undoing a follow that never happened creates nothing.
		require.NoError(followers.Deactivate("site.example", "https://remote.example/stranger"))
		var count int64
		require.NoError(db.Model(&Follower{}).Where("src = ?", "https://remote.example/stranger").Count(&count).Error)
		require.Zero(count)

		// Refollowing reactivates the same row.
		f, err := followers.GetOrCreate("site.example", "https://remote.example/alice", FollowerActive, nil)
		require.NoError(err)
		require.Equal(FollowerActive, f.Status)
	})

	t.Run("DeactivateActor clears both directions", func(t *testing.T) {
		require := require.New(t)

		_, err := followers.GetOrCreate("other.example", "https://remote.example/alice", FollowerActive, nil)
		require.NoError(err)
		_, err = followers.GetOrCreate("https://remote.example/alice", "cross.example", FollowerActive, nil)
		require.NoError(err)

		require.NoError(followers.DeactivateActor("https://remote.example/alice"))

		active, err := followers.ActiveFollowers("other.example")
		require.NoError(err)
		require.Empty(active)
		active, err = followers.ActiveFollowing("cross.example")
		require.NoError(err)
		require.Empty(active)
	})
}

func TestInboxes(t *testing.T) {
	require := require.New(t)

	edges := []Follower{
		{LastFollow: map[string]any{"actor": map[string]any{
			"inbox":     "https://a.example/inbox",
			"endpoints": map[string]any{"sharedInbox": "https://a.example/shared"},
		}}},
		{LastFollow: map[string]any{"actor": map[string]any{
			"inbox": "https://b.example/users/bob/inbox",
		}}},
		// Same shared inbox again collapses.
		{LastFollow: map[string]any{"actor": map[string]any{
			"inbox":     "https://a.example/other/inbox",
			"endpoints": map[string]any{"sharedInbox": "https://a.example/shared"},
		}}},
		// No actor at all is skipped.
		{LastFollow: nil},
	}
	require.Equal([]string{
		"https://a.example/shared",
		"https://b.example/users/bob/inbox",
	}, Inboxes(edges))
}

func TestFollowerPagination(t *testing.T) {
	db := setupTestDB(t)
	followers := NewFollowers(db)

	// Distinct updated_at values so the keyset ordering is total.
	base := time.Now().Add(-time.Hour).UTC()
	const total = PageSize*2 + 5
	for i := 0; i < total; i++ {
		f := &Follower{
			Dest:   "paged.example",
			Src:    fmt.Sprintf("https://remote.example/user/%03d", i),
			Status: FollowerActive,
		}
		require.NoError(t, db.Create(f).Error)
		require.NoError(t, db.Model(f).Update("updated_at", base.Add(time.Duration(i)*time.Second)).Error)
	}

	t.Run("walking older pages sees every edge exactly once", func(t *testing.T) {
		require := require.New(t)

		seen := make(map[string]bool)
		page, err := followers.PageFollowers("paged.example", "", "")
		require.NoError(err)
		require.Len(page.Edges, PageSize)
		for {
			for _, f := range page.Edges {
				require.False(seen[f.Src], "duplicate %s", f.Src)
				seen[f.Src] = true
			}
			if page.Before == "" {
				break
			}
			next, err := followers.PageFollowers("paged.example", page.Before, "")
			require.NoError(err)
			page = next
		}
		require.Len(seen, total)
	})

	t.Run("pages are newest first", func(t *testing.T) {
		require := require.New(t)

		page, err := followers.PageFollowers("paged.example", "", "")
		require.NoError(err)
		for i := 1; i < len(page.Edges); i++ {
			require.True(page.Edges[i-1].UpdatedAt.After(page.Edges[i].UpdatedAt))
		}
	})

	t.Run("after steps back toward newer edges", func(t *testing.T) {
		require := require.New(t)

		first, err := followers.PageFollowers("paged.example", "", "")
		require.NoError(err)
		second, err := followers.PageFollowers("paged.example", first.Before, "")
		require.NoError(err)
		require.NotEmpty(second.After)

		back, err := followers.PageFollowers("paged.example", "", second.After)
		require.NoError(err)
		require.Equal(first.Edges, back.Edges)
	})

	t.Run("cursors carry full timestamp precision", func(t *testing.T) {
		require := require.New(t)

		first, err := followers.PageFollowers("paged.example", "", "")
		require.NoError(err)
		boundary := first.Edges[len(first.Edges)-1].UpdatedAt
		parsed, err := time.Parse(cursorFormat, boundary.Format(cursorFormat))
		require.NoError(err)
		require.True(parsed.Equal(boundary))
	})

	t.Run("inactive edges vanish from pages and counts", func(t *testing.T) {
		require := require.New(t)

		require.NoError(followers.Deactivate("paged.example", "https://remote.example/user/044"))

		page, err := followers.PageFollowers("paged.example", "", "")
		require.NoError(err)
		require.Len(page.Edges, PageSize)
		for _, f := range page.Edges {
			require.NotEqual("https://remote.example/user/044", f.Src)
		}

		n, err := followers.CountFollowers("paged.example")
		require.NoError(err)
		require.Equal(int64(total-1), n)
	})
}
