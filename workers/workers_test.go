package workers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fedilink/bridge/delivery"
	"github.com/fedilink/bridge/internal/translate"
	"github.com/fedilink/bridge/models"
)

func setupEngine(t *testing.T) (*delivery.Engine, *models.Items, *gorm.DB) {
	t.Helper()
	require := require.New(t)
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	require.NoError(err)
	require.NoError(db.AutoMigrate(models.AllTables()...))

	items := models.NewItems(db, translate.Basic{}, nil, nil)
	return delivery.NewEngine(items, translate.Basic{}, nil), items, db
}

// recordingSender accepts everything and remembers, safely across
// goroutines, what it sent.
type recordingSender struct {
	mu    sync.Mutex
	calls []string
}

func (s *recordingSender) Send(_ context.Context, target models.Target, _ map[string]any, _ bool) (*delivery.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, target.URI)
	return &delivery.Result{StatusCode: 200}, nil
}

func (s *recordingSender) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func request(id string, targets ...string) *delivery.Request {
	tm := make(map[models.Target]map[string]any)
	for _, u := range targets {
		tm[models.Target{URI: u, Protocol: models.ProtocolActivityPub}] = nil
	}
	return &delivery.Request{
		ID:       id,
		Encoding: translate.EncodingActivity,
		Payload: map[string]any{
			"type":   "Create",
			"id":     id,
			"object": map[string]any{"type": "Note", "id": id + "/note"},
		},
		Targets:        tm,
		SourceProtocol: models.ProtocolWebmention,
		Domains:        []string{"site.example"},
		Labels:         []string{models.LabelActivity, models.LabelFeed},
	}
}

func TestQueue(t *testing.T) {
	t.Run("queued work is delivered", func(t *testing.T) {
		require := require.New(t)
		engine, items, _ := setupEngine(t)

		q := NewQueue(engine, nil)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go q.Run(ctx)

		sender := &recordingSender{}
		require.NoError(q.Enqueue(ctx, request("https://site.example/queued/1", "https://a.example/inbox"), sender))

		require.Eventually(func() bool {
			item, err := items.Get("https://site.example/queued/1")
			return err == nil && item != nil && item.Status == models.StatusComplete
		}, 2*time.Second, 10*time.Millisecond)
		require.Equal([]string{"https://a.example/inbox"}, sender.sent())
	})

	t.Run("a full queue refuses rather than stalls", func(t *testing.T) {
		require := require.New(t)
		engine, _, _ := setupEngine(t)

		// No consumer running, so the channel fills up.
		q := NewQueue(engine, nil)
		sender := &recordingSender{}
		for i := 0; i < defaultQueueDepth; i++ {
			require.NoError(q.Enqueue(context.Background(), request("https://site.example/flood", "https://a.example/inbox"), sender))
		}
		err := q.Enqueue(context.Background(), request("https://site.example/flood", "https://a.example/inbox"), sender)
		require.ErrorContains(err, "queue is full")
	})
}

func TestResumerSweep(t *testing.T) {
	require := require.New(t)
	engine, items, db := setupEngine(t)

	// An interrupted run: one target delivered, one still owed.
	stale := &models.Item{
		URI:            "https://site.example/stuck/1",
		Activity:       map[string]any{"type": "Create", "id": "https://site.example/stuck/1"},
		Status:         models.StatusInProgress,
		SourceProtocol: models.ProtocolWebmention,
		Domains:        []string{"site.example"},
		Delivered:      []models.Target{{URI: "https://a.example/inbox", Protocol: models.ProtocolActivityPub}},
		Undelivered:    []models.Target{{URI: "https://b.example/inbox", Protocol: models.ProtocolActivityPub}},
	}
	require.NoError(items.Put(stale))
	require.NoError(db.Model(&models.Item{URI: stale.URI}).
		Update("updated_at", time.Now().Add(-time.Hour)).Error)

	sender := &recordingSender{}
	resumer := NewResumer(items, engine, nil, map[string]ResumeFunc{
		models.ProtocolWebmention: func(item *models.Item) (*delivery.Request, delivery.Sender, error) {
			enc, _ := item.Encoding()
			return &delivery.Request{
				ID:             item.URI,
				Encoding:       enc,
				Targets:        make(map[models.Target]map[string]any),
				SourceProtocol: item.SourceProtocol,
				Domains:        item.Domains,
				Labels:         item.Labels,
			}, sender, nil
		},
	})
	require.NoError(resumer.Sweep(context.Background()))

	// Only the owed target was retried.
	require.Equal([]string{"https://b.example/inbox"}, sender.sent())
	item, err := items.Get(stale.URI)
	require.NoError(err)
	require.Equal(models.StatusComplete, item.Status)
	require.Len(item.Delivered, 2)

	// A settled item is not touched again.
	require.NoError(resumer.Sweep(context.Background()))
	require.Len(sender.sent(), 1)
}
