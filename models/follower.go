package models

import (
	"time"

	"gorm.io/gorm"
)

// Follower statuses.
const (
	FollowerActive   = "active"
	FollowerInactive = "inactive"
)

// PageSize is the fixed page size for follower collection pages.
const PageSize = 20

// Follower records one edge of the follow graph: Src follows Dest. The
// composite primary key makes (dest, src) unique; re-follows update the
// existing row in place.
type Follower struct {
	Dest string `gorm:"primarykey;size:255"`
	Src  string `gorm:"primarykey;size:255"`

	// LastFollow is the most recent follow activity for this edge, kept so
	// the follower's inbox can be resolved without refetching their actor.
	LastFollow map[string]any `gorm:"serializer:json"`

	Status string `gorm:"size:16;default:active"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Followers is the store of follow-graph edges.
type Followers struct {
	db *gorm.DB
}

func NewFollowers(db *gorm.DB) *Followers {
	return &Followers{db: db}
}

// GetOrCreate upserts the (dest, src) edge, applying status and lastFollow
// whether the row is new or existing. A repeated follow therefore refreshes
// the stored follow activity and reactivates a previously inactive edge.
func (s *Followers) GetOrCreate(dest, src, status string, lastFollow map[string]any) (*Follower, error) {
	var f Follower
	err := s.db.Where(Follower{Dest: dest, Src: src}).
		FirstOrCreate(&f).Error
	if err != nil {
		return nil, err
	}
	f.Status = status
	if lastFollow != nil {
		f.LastFollow = lastFollow
	}
	if err := s.db.Save(&f).Error; err != nil {
		return nil, err
	}
	return &f, nil
}

// Deactivate marks the exact (dest, src) edge inactive. An absent edge is a
// no-op; no row is created.
func (s *Followers) Deactivate(dest, src string) error {
	return s.db.Model(&Follower{}).
		Where("dest = ? AND src = ?", dest, src).
		Update("status", FollowerInactive).Error
}

// DeactivateActor marks every edge touching the actor inactive, on either
// side. Used when the actor itself is deleted.
func (s *Followers) DeactivateActor(actor string) error {
	return s.db.Model(&Follower{}).
		Where("dest = ? OR src = ?", actor, actor).
		Update("status", FollowerInactive).Error
}

// ActiveFollowers returns active edges where others follow dest.
func (s *Followers) ActiveFollowers(dest string) ([]Follower, error) {
	var fs []Follower
	err := s.db.Where("dest = ? AND status = ?", dest, FollowerActive).
		Find(&fs).Error
	return fs, err
}

// ActiveFollowing returns active edges where src follows others.
func (s *Followers) ActiveFollowing(src string) ([]Follower, error) {
	var fs []Follower
	err := s.db.Where("src = ? AND status = ?", src, FollowerActive).
		Find(&fs).Error
	return fs, err
}

// Inboxes resolves delivery inboxes for a set of edges from their stored
// follow activities, preferring a shared inbox over the actor's own.
// Duplicate inboxes are collapsed; edges whose actor carries no inbox are
// skipped.
func Inboxes(edges []Follower) []string {
	var inboxes []string
	seen := make(map[string]bool)
	for _, f := range edges {
		inbox := inboxOf(f.LastFollow)
		if inbox == "" || seen[inbox] {
			continue
		}
		seen[inbox] = true
		inboxes = append(inboxes, inbox)
	}
	return inboxes
}

func inboxOf(lastFollow map[string]any) string {
	if lastFollow == nil {
		return ""
	}
	actor, ok := lastFollow["actor"].(map[string]any)
	if !ok {
		return ""
	}
	if ep, ok := actor["endpoints"].(map[string]any); ok {
		if shared, _ := ep["sharedInbox"].(string); shared != "" {
			return shared
		}
	}
	if shared, _ := actor["publicInbox"].(string); shared != "" {
		return shared
	}
	inbox, _ := actor["inbox"].(string)
	return inbox
}

// Page is one keyset-paginated slice of follower edges, newest first.
type Page struct {
	Edges []Follower
	// Before, when set, is the cursor for the next (older) page. After,
	// when set, is the cursor for the previous (newer) page.
	Before string
	After  string
}

// cursorFormat is the ISO-8601 rendering used for pagination cursors. Full
// nanosecond precision, so a parsed cursor compares equal to the stored
// timestamp and the strict keyset comparisons exclude exactly the boundary
// row.
const cursorFormat = "2006-01-02T15:04:05.000000000-07:00"

// PageFollowers returns one page of the dest's followers, newest first.
// before and after are mutually exclusive updated_at cursors; pass both
// empty for the first page.
func (s *Followers) PageFollowers(dest, before, after string) (*Page, error) {
	return s.page("dest = ?", dest, before, after)
}

// PageFollowing returns one page of who src follows, newest first.
func (s *Followers) PageFollowing(src, before, after string) (*Page, error) {
	return s.page("src = ?", src, before, after)
}

func (s *Followers) page(cond, value, before, after string) (*Page, error) {
	// Inactive edges are never materialized in collection pages.
	q := s.db.Where(cond, value).
		Where("status = ?", FollowerActive).
		Limit(PageSize + 1)
	switch {
	case before != "":
		t, err := time.Parse(cursorFormat, before)
		if err != nil {
			return nil, err
		}
		q = q.Where("updated_at < ?", t).Order("updated_at desc")
	case after != "":
		t, err := time.Parse(cursorFormat, after)
		if err != nil {
			return nil, err
		}
		q = q.Where("updated_at > ?", t).Order("updated_at asc")
	default:
		q = q.Order("updated_at desc")
	}

	var edges []Follower
	if err := q.Find(&edges).Error; err != nil {
		return nil, err
	}
	more := len(edges) > PageSize
	if more {
		edges = edges[:PageSize]
	}
	// After-pages are fetched ascending; present newest first regardless.
	if after != "" {
		for i, j := 0, len(edges)-1; i < j; i, j = i+1, j-1 {
			edges[i], edges[j] = edges[j], edges[i]
		}
	}

	page := &Page{Edges: edges}
	if len(edges) == 0 {
		return page, nil
	}
	newest := edges[0].UpdatedAt.Format(cursorFormat)
	oldest := edges[len(edges)-1].UpdatedAt.Format(cursorFormat)
	switch {
	case before != "":
		// Came from a newer page, so one exists; an older page exists
		// only when the query overflowed.
		page.After = newest
		if more {
			page.Before = oldest
		}
	case after != "":
		page.Before = oldest
		if more {
			page.After = newest
		}
	default:
		if more {
			page.Before = oldest
		}
	}
	return page, nil
}

// CountFollowers returns the number of active edges pointing at dest.
func (s *Followers) CountFollowers(dest string) (int64, error) {
	var n int64
	err := s.db.Model(&Follower{}).
		Where("dest = ? AND status = ?", dest, FollowerActive).
		Count(&n).Error
	return n, err
}

// CountFollowing returns the number of active edges leaving src.
func (s *Followers) CountFollowing(src string) (int64, error) {
	var n int64
	err := s.db.Model(&Follower{}).
		Where("src = ? AND status = ?", src, FollowerActive).
		Count(&n).Error
	return n, err
}
