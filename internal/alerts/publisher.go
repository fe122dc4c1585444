package alerts

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/xerrors"

	"github.com/sudo-init-do/blindbid/internal/marketplace"
)

// Publisher enqueues listing events for the alerts worker
type Publisher struct {
	client *asynq.Client
	now    func() time.Time
}

var _ marketplace.EventSink = (*Publisher)(nil)

func NewPublisher(redis asynq.RedisConnOpt) *Publisher {
	return &Publisher{client: asynq.NewClient(redis), now: time.Now}
}

func (p *Publisher) Publish(ctx context.Context, evt marketplace.Event) error {
	task, err := NewEventTask(evt, p.now())
	if err != nil {
		return err
	}
	info, err := p.client.EnqueueContext(ctx, task, asynq.Queue(QueueAlerts), asynq.MaxRetry(5))
	if err != nil {
		return xerrors.Errorf("enqueue %s: %w", task.Type(), err)
	}
	log.Debugw("event enqueued", "task", task.Type(), "id", info.ID, "listing", evt.ListingID)
	return nil
}

func (p *Publisher) Close() error {
	return p.client.Close()
}
