package marketplace

import (
	"context"
	"sync"
	"time"
)

// EventType names a state change of a listing
type EventType string

const (
	EventListingCreated   EventType = "listing.created"
	EventBidSealed        EventType = "auction.bid_sealed"
	EventBidRevealed      EventType = "auction.bid_revealed"
	EventAuctionFinalized EventType = "auction.finalized"
	EventEscrowCreated    EventType = "escrow.created"
	EventEscrowVote       EventType = "escrow.vote"
	EventEscrowResolved   EventType = "escrow.resolved"
	EventSettlementFailed EventType = "escrow.settlement_failed"
)

// Event is an entry of the listing event log. Parties lists who should be
// notified about it.
type Event struct {
	Seq       uint64                 `json:"seq"`
	Type      EventType              `json:"type"`
	ListingID string                 `json:"listing_id"`
	Actor     string                 `json:"actor,omitempty"`
	Parties   []string               `json:"parties,omitempty"`
	At        time.Time              `json:"at"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EventSink receives events after the state change they describe has been
// stored.
type EventSink interface {
	Publish(ctx context.Context, evt Event) error
}

// MultiSink publishes to every sink and returns the first error.
type MultiSink []EventSink

func (m MultiSink) Publish(ctx context.Context, evt Event) error {
	var first error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, evt); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// EventLog is an in-process event log that callers can poll with Since or
// follow with Subscribe.
type EventLog struct {
	mu     sync.RWMutex
	events []Event
	subs   map[int]*subscription
	nextID int
	limit  int
}

type subscription struct {
	listingID string
	ch        chan Event
}

// NewEventLog keeps at most limit events; limit <= 0 keeps everything.
func NewEventLog(limit int) *EventLog {
	return &EventLog{subs: make(map[int]*subscription), limit: limit}
}

// Publish assigns the next sequence number and fans the event out to
// subscribers. Slow subscribers miss events rather than block the log.
func (l *EventLog) Publish(_ context.Context, evt Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	evt.Seq = uint64(1)
	if n := len(l.events); n > 0 {
		evt.Seq = l.events[n-1].Seq + 1
	}
	l.events = append(l.events, evt)
	if l.limit > 0 && len(l.events) > l.limit {
		l.events = append([]Event(nil), l.events[len(l.events)-l.limit:]...)
	}

	for _, s := range l.subs {
		if s.listingID != "" && s.listingID != evt.ListingID {
			continue
		}
		select {
		case s.ch <- evt:
		default:
		}
	}
	return nil
}

// Since returns events with a sequence number above seq, optionally for one
// listing only.
func (l *EventLog) Since(listingID string, seq uint64) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Event
	for _, e := range l.events {
		if e.Seq <= seq {
			continue
		}
		if listingID != "" && e.ListingID != listingID {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Subscribe follows new events of a listing, or of all listings when
// listingID is empty. Call cancel to stop.
func (l *EventLog) Subscribe(listingID string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	s := &subscription{listingID: listingID, ch: make(chan Event, buffer)}

	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = s
	l.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
			close(s.ch)
		})
	}
	return s.ch, cancel
}
