package models

import (
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fedilink/bridge/internal/cache"
	"github.com/fedilink/bridge/internal/translate"
)

// Item processing statuses.
const (
	StatusNew        = "new"
	StatusInProgress = "in progress"
	StatusComplete   = "complete"
	StatusFailed     = "failed"
	StatusIgnored    = "ignored"
)

// Item classification labels.
const (
	LabelActivity     = "activity"
	LabelFeed         = "feed"
	LabelNotification = "notification"
	LabelUser         = "user"
)

// Target protocols.
const (
	ProtocolActivityPub = "activitypub"
	ProtocolWebmention  = "webmention"
	ProtocolUI          = "ui"
)

// Target is a delivery destination: a URI plus the protocol it is reached
// through. Targets are owned by their containing Item and move between its
// delivered, undelivered and failed lists; they are never shared.
type Target struct {
	URI      string `json:"uri"`
	Protocol string `json:"protocol"`
}

// Item is a federated activity or object, keyed by its federation id.
// Exactly one of Activity, Record and Microformat should be populated;
// violations are tolerated and logged, never fatal.
type Item struct {
	URI string `gorm:"primarykey;size:512"`

	// The wire encodings. Only one should be set.
	Activity    map[string]any `gorm:"serializer:json"`
	Record      map[string]any `gorm:"serializer:json"`
	Microformat map[string]any `gorm:"serializer:json"`

	// Derived from the populated encoding at save time.
	Type      string   `gorm:"size:32"`
	ObjectIDs []string `gorm:"serializer:json"`

	Status         string   `gorm:"size:16"`
	SourceProtocol string   `gorm:"size:16"`
	Domains        []string `gorm:"serializer:json"`
	Labels         []string `gorm:"serializer:json"`
	Deleted        bool

	Delivered   []Target `gorm:"serializer:json"`
	Undelivered []Target `gorm:"serializer:json"`
	Failed      []Target `gorm:"serializer:json"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Encoding returns the populated wire encoding and its document. When more
// than one is set the activity encoding wins; when none is set it returns
// an empty encoding and nil.
func (i *Item) Encoding() (translate.Encoding, map[string]any) {
	switch {
	case i.Activity != nil:
		return translate.EncodingActivity, i.Activity
	case i.Record != nil:
		return translate.EncodingRecord, i.Record
	case i.Microformat != nil:
		return translate.EncodingMicroformat, i.Microformat
	default:
		return "", nil
	}
}

// encodings counts how many wire encodings are populated.
func (i *Item) encodings() int {
	n := 0
	for _, doc := range []map[string]any{i.Activity, i.Record, i.Microformat} {
		if doc != nil {
			n++
		}
	}
	return n
}

// Unified returns the unified representation of the populated encoding.
func (i *Item) Unified(t translate.Translator) (map[string]any, error) {
	enc, doc := i.Encoding()
	if doc == nil {
		return nil, nil
	}
	return t.Unify(enc, doc)
}

// SeenTargets returns the set of destination URIs across all three lists.
func (i *Item) SeenTargets() map[string]bool {
	seen := make(map[string]bool)
	for _, list := range [][]Target{i.Delivered, i.Undelivered, i.Failed} {
		for _, t := range list {
			seen[t.URI] = true
		}
	}
	return seen
}

// HasLabel reports whether the item carries the given label.
func (i *Item) HasLabel(label string) bool {
	for _, l := range i.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Items is the durable store of federated items, fronted by a process-local
// read cache. The cache is best effort: correctness-relevant reads always
// go to the database.
type Items struct {
	db         *gorm.DB
	translator translate.Translator
	cache      *cache.Cache[string, *Item]
	logger     *zap.Logger
}

const itemCacheSize = 512

// NewItems returns an Items store. The cache argument may be nil to share a
// cache between stores; otherwise each store gets its own.
func NewItems(db *gorm.DB, translator translate.Translator, c *cache.Cache[string, *Item], logger *zap.Logger) *Items {
	if c == nil {
		c = cache.New[string, *Item](itemCacheSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Items{db: db, translator: translator, cache: c, logger: logger}
}

// Get reads the item from the durable store. Returns nil with no error when
// the id is unknown.
func (s *Items) Get(uri string) (*Item, error) {
	var item Item
	err := s.db.Take(&item, "uri = ?", uri).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		return nil, nil
	case err != nil:
		return nil, err
	}
	return &item, nil
}

// Stuck returns items whose last run did not settle: still marked in
// progress or failed, and untouched for at least olderThan.
func (s *Items) Stuck(olderThan time.Duration) ([]*Item, error) {
	var items []*Item
	cutoff := time.Now().Add(-olderThan)
	err := s.db.
		Where("status IN ? AND updated_at < ?", []string{StatusInProgress, StatusFailed}, cutoff).
		Find(&items).Error
	return items, err
}

// Cached returns the item from the read cache, falling back to the durable
// store on a miss. Callers must tolerate staleness.
func (s *Items) Cached(uri string) (*Item, error) {
	if item, ok := s.cache.Get(uri); ok {
		return item, nil
	}
	return s.Get(uri)
}

// Put persists the item, deriving its type and inner object ids from the
// populated encoding, and refreshes the read cache. Only bare objects with
// fragment-free ids are cached, so repeat fetches of plain objects are fast
// while activity wrappers always come from the store.
func (s *Items) Put(item *Item) error {
	if n := item.encodings(); n > 1 {
		s.logger.Warn("item has multiple wire encodings",
			zap.String("uri", item.URI),
			zap.Int("count", n),
		)
	}

	if unified, err := item.Unified(s.translator); err == nil && unified != nil {
		item.Type = translate.ObjectType(unified)
		item.ObjectIDs = translate.InnerObjectIDs(unified)
	}

	if err := s.db.Save(item).Error; err != nil {
		return err
	}

	s.logger.Info("wrote item",
		zap.String("uri", item.URI),
		zap.String("type", item.Type),
		zap.String("status", item.Status),
		zap.Strings("labels", item.Labels),
		zap.Int("domains", len(item.Domains)),
	)

	if !strings.Contains(item.URI, "#") && !item.HasLabel(LabelActivity) && !translate.IsActivityType(item.Type) {
		s.cache.Put(item.URI, item)
	}
	return nil
}
