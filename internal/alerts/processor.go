package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/sudo-init-do/blindbid/internal/marketplace"
)

var log = logging.Logger("alerts")

// Processor turns listing events into notifications
type Processor struct {
	inbox Inbox
}

func NewProcessor(inbox Inbox) *Processor {
	return &Processor{inbox: inbox}
}

// Mux routes every event task type to the processor
func (p *Processor) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	for _, tt := range taskTypes {
		mux.HandleFunc(tt, p.HandleTask)
	}
	return mux
}

// HandleTask decodes an event task and delivers it
func (p *Processor) HandleTask(ctx context.Context, t *asynq.Task) error {
	var payload EventPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode %s task: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return p.Deliver(ctx, payload.Event)
}

// Deliver writes one notification per distinct party of evt
func (p *Processor) Deliver(ctx context.Context, evt marketplace.Event) error {
	var metadata string
	if len(evt.Data) > 0 {
		b, err := json.Marshal(evt.Data)
		if err != nil {
			return xerrors.Errorf("encode %s metadata: %w", evt.Type, err)
		}
		metadata = string(b)
	}

	seen := make(map[string]bool, len(evt.Parties))
	for _, party := range evt.Parties {
		if party == "" || seen[party] {
			continue
		}
		seen[party] = true

		title, body := render(evt, party)
		n := Notification{
			UserID:    party,
			Type:      string(evt.Type),
			Title:     title,
			Body:      body,
			Reference: evt.ListingID,
			Metadata:  metadata,
			CreatedAt: evt.At,
		}
		if err := p.inbox.Add(ctx, n); err != nil {
			log.Errorw("notification not stored", "type", evt.Type, "listing", evt.ListingID, "user", party, "err", err)
			return err
		}
	}
	log.Debugw("event delivered", "type", evt.Type, "listing", evt.ListingID, "parties", len(seen))
	return nil
}

// Direct is an EventSink that delivers synchronously, for deployments
// without Redis.
type Direct struct {
	*Processor
}

func (d Direct) Publish(ctx context.Context, evt marketplace.Event) error {
	return d.Deliver(ctx, evt)
}

// NewServer builds the asynq worker that consumes the alerts queue
func NewServer(redis asynq.RedisConnOpt, concurrency int) *asynq.Server {
	if concurrency <= 0 {
		concurrency = 5
	}
	return asynq.NewServer(redis, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueAlerts: 10,
		},
		Logger:          log,
		ShutdownTimeout: 10 * time.Second,
	})
}
