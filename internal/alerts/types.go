package alerts

import (
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/crypto/sha3"
	"golang.org/x/xerrors"

	"github.com/sudo-init-do/blindbid/internal/marketplace"
)

// Task type constants, one per listing event
const (
	TaskListingCreated   = "listing:created"
	TaskBidSealed        = "auction:bid_sealed"
	TaskBidRevealed      = "auction:bid_revealed"
	TaskAuctionFinalized = "auction:finalized"
	TaskEscrowCreated    = "escrow:created"
	TaskEscrowVote       = "escrow:vote"
	TaskEscrowResolved   = "escrow:resolved"
	TaskSettlementFailed = "escrow:settlement_failed"
)

// QueueAlerts is the asynq queue listing events are enqueued on
const QueueAlerts = "alerts"

var taskTypes = map[marketplace.EventType]string{
	marketplace.EventListingCreated:   TaskListingCreated,
	marketplace.EventBidSealed:        TaskBidSealed,
	marketplace.EventBidRevealed:      TaskBidRevealed,
	marketplace.EventAuctionFinalized: TaskAuctionFinalized,
	marketplace.EventEscrowCreated:    TaskEscrowCreated,
	marketplace.EventEscrowVote:       TaskEscrowVote,
	marketplace.EventEscrowResolved:   TaskEscrowResolved,
	marketplace.EventSettlementFailed: TaskSettlementFailed,
}

// TaskType maps an event type to its task type; unknown event types keep
// their name with the first dot turned into a colon.
func TaskType(t marketplace.EventType) string {
	if tt, ok := taskTypes[t]; ok {
		return tt
	}
	return strings.Replace(string(t), ".", ":", 1)
}

// EventPayload is the task body
type EventPayload struct {
	Event      marketplace.Event `json:"event"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
}

// NewEventTask encodes evt as an asynq task
func NewEventTask(evt marketplace.Event, now time.Time) (*asynq.Task, error) {
	b, err := json.Marshal(EventPayload{Event: evt, EnqueuedAt: now})
	if err != nil {
		return nil, xerrors.Errorf("encode %s event: %w", evt.Type, err)
	}
	return asynq.NewTask(TaskType(evt.Type), b), nil
}

// Notification is an in-app message for one user
type Notification struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Type      string     `json:"type"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	Reference string     `json:"reference"`
	Metadata  string     `json:"metadata,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ReadAt    *time.Time `json:"read_at"`
}

// DedupeKey identifies the event a notification was rendered from, so a
// retried task does not notify a user twice.
func (n Notification) DedupeKey() string {
	h := sha3.Sum256([]byte(strings.Join([]string{
		n.UserID, n.Type, n.Reference, n.CreatedAt.UTC().Format(time.RFC3339Nano), n.Metadata,
	}, "\x00")))
	return hex.EncodeToString(h[:])
}
