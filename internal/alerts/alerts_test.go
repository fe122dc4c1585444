package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/blindbid/internal/marketplace"
)

var at = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func finalizedEvent() marketplace.Event {
	return marketplace.Event{
		Type:      marketplace.EventAuctionFinalized,
		ListingID: "listing-1",
		At:        at,
		Parties:   []string{"seller", "arbiter", "winner", "seller"},
		Data: map[string]interface{}{
			"status":        "sold",
			"winner":        "winner",
			"winning_price": "70",
		},
	}
}

func TestTaskType(t *testing.T) {
	assert.Equal(t, TaskAuctionFinalized, TaskType(marketplace.EventAuctionFinalized))
	assert.Equal(t, TaskEscrowResolved, TaskType(marketplace.EventEscrowResolved))
	assert.Equal(t, "custom:thing", TaskType("custom.thing"))
}

func TestHandleTaskDeliversToEachParty(t *testing.T) {
	inbox := NewMemoryInbox()
	p := NewProcessor(inbox)

	task, err := NewEventTask(finalizedEvent(), at)
	require.NoError(t, err)
	assert.Equal(t, TaskAuctionFinalized, task.Type())

	require.NoError(t, p.HandleTask(context.Background(), task))

	for _, user := range []string{"seller", "arbiter", "winner"} {
		items, err := inbox.List(context.Background(), user)
		require.NoError(t, err)
		require.Len(t, items, 1, user)
		assert.Equal(t, "listing-1", items[0].Reference)
	}

	won, _ := inbox.List(context.Background(), "winner")
	assert.Equal(t, "You won the auction", won[0].Title)
	sold, _ := inbox.List(context.Background(), "seller")
	assert.Equal(t, "Auction finalized", sold[0].Title)
}

type flakyInbox struct {
	*MemoryInbox
	failFor string
}

func (f *flakyInbox) Add(ctx context.Context, n Notification) error {
	if n.UserID == f.failFor {
		f.failFor = ""
		return errors.New("connection reset")
	}
	return f.MemoryInbox.Add(ctx, n)
}

func TestHandleTaskRetryDoesNotDuplicate(t *testing.T) {
	inbox := &flakyInbox{MemoryInbox: NewMemoryInbox(), failFor: "winner"}
	p := NewProcessor(inbox)

	task, err := NewEventTask(finalizedEvent(), at)
	require.NoError(t, err)

	require.Error(t, p.HandleTask(context.Background(), task))
	require.NoError(t, p.HandleTask(context.Background(), task))
	require.NoError(t, p.HandleTask(context.Background(), task))

	for _, user := range []string{"seller", "arbiter", "winner"} {
		items, err := inbox.List(context.Background(), user)
		require.NoError(t, err)
		assert.Len(t, items, 1, user)
	}

	// a different event at the same instant is still delivered
	other := finalizedEvent()
	other.Data["winning_price"] = "71"
	require.NoError(t, p.Deliver(context.Background(), other))
	items, err := inbox.List(context.Background(), "seller")
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestHandleTaskRejectsGarbage(t *testing.T) {
	p := NewProcessor(NewMemoryInbox())
	err := p.HandleTask(context.Background(), asynq.NewTask(TaskBidSealed, []byte("{")))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestDirectSink(t *testing.T) {
	inbox := NewMemoryInbox()
	var sink marketplace.EventSink = Direct{NewProcessor(inbox)}

	require.NoError(t, sink.Publish(context.Background(), marketplace.Event{
		Type:      marketplace.EventEscrowResolved,
		ListingID: "listing-2",
		At:        at,
		Parties:   []string{"buyer", "seller"},
		Data:      map[string]interface{}{"outcome": "refund", "payee": "buyer", "amount": "40"},
	}))

	items, err := inbox.List(context.Background(), "buyer")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Escrow paid out", items[0].Title)
	assert.Contains(t, items[0].Metadata, `"payee":"buyer"`)
}

func TestNotificationHandlers(t *testing.T) {
	inbox := NewMemoryInbox()
	require.NoError(t, NewProcessor(inbox).Deliver(context.Background(), finalizedEvent()))
	h := NewHandler(inbox)
	h.Now = func() time.Time { return at.Add(time.Hour) }

	e := echo.New()
	g := e.Group("", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if u := c.Request().Header.Get("X-Test-User"); u != "" {
				c.Set("user_id", u)
			}
			return next(c)
		}
	})
	h.Register(g)

	do := func(method, path, user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		if user != "" {
			req.Header.Set("X-Test-User", user)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/notifications", "").Code)

	rec := do(http.MethodGet, "/notifications", "winner")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Notifications []Notification `json:"notifications"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Notifications, 1)
	id := body.Notifications[0].ID

	assert.Equal(t, http.StatusNotFound, do(http.MethodPost, "/notifications/"+id+"/read", "seller").Code)
	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/notifications/"+id+"/read", "winner").Code)
	assert.Equal(t, http.StatusNotFound, do(http.MethodPost, "/notifications/"+id+"/read", "winner").Code)
}
