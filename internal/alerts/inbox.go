package alerts

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/xerrors"
)

// Inbox stores in-app notifications
type Inbox interface {
	// Add ignores a notification whose DedupeKey is already stored.
	Add(ctx context.Context, n Notification) error
	List(ctx context.Context, userID string) ([]Notification, error)
	// MarkRead reports false when the notification is unknown or already read.
	MarkRead(ctx context.Context, userID, id string, now time.Time) (bool, error)
}

// PGInbox keeps notifications in the notifications table
type PGInbox struct {
	pool *pgxpool.Pool
}

func NewPGInbox(pool *pgxpool.Pool) *PGInbox {
	return &PGInbox{pool: pool}
}

func (p *PGInbox) Add(ctx context.Context, n Notification) error {
	var metadata *string
	if n.Metadata != "" {
		metadata = &n.Metadata
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO notifications (user_id, type, title, body, reference, metadata, created_at, dedupe_key)
         VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8)
         ON CONFLICT (dedupe_key) DO NOTHING`,
		n.UserID, n.Type, n.Title, n.Body, n.Reference, metadata, n.CreatedAt, n.DedupeKey(),
	)
	if err != nil {
		return xerrors.Errorf("insert notification for %s: %w", n.UserID, err)
	}
	return nil
}

func (p *PGInbox) List(ctx context.Context, userID string) ([]Notification, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id::text, user_id, type, title, COALESCE(body, ''), COALESCE(reference, ''), COALESCE(metadata::text, ''), created_at, read_at
         FROM notifications WHERE user_id = $1 ORDER BY created_at DESC`, userID,
	)
	if err != nil {
		return nil, xerrors.Errorf("load notifications of %s: %w", userID, err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Body, &n.Reference, &n.Metadata, &n.CreatedAt, &n.ReadAt); err != nil {
			return nil, xerrors.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (p *PGInbox) MarkRead(ctx context.Context, userID, id string, now time.Time) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}
	res, err := p.pool.Exec(ctx,
		`UPDATE notifications SET read_at = $3 WHERE id = $1 AND user_id = $2 AND read_at IS NULL`, id, userID, now,
	)
	if err != nil {
		return false, xerrors.Errorf("mark notification %s read: %w", id, err)
	}
	return res.RowsAffected() > 0, nil
}

// MemoryInbox is an Inbox for development and tests
type MemoryInbox struct {
	mu    sync.Mutex
	items []Notification
	keys  map[string]bool
}

func NewMemoryInbox() *MemoryInbox {
	return &MemoryInbox{keys: make(map[string]bool)}
}

func (m *MemoryInbox) Add(_ context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := n.DedupeKey()
	if m.keys[key] {
		return nil
	}
	m.keys[key] = true
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	m.items = append(m.items, n)
	return nil
}

func (m *MemoryInbox) List(_ context.Context, userID string) ([]Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Notification
	for _, n := range m.items {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryInbox) MarkRead(_ context.Context, userID, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.items {
		n := &m.items[i]
		if n.ID == id && n.UserID == userID && n.ReadAt == nil {
			at := now
			n.ReadAt = &at
			return true, nil
		}
	}
	return false, nil
}
