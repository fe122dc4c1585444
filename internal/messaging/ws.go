package messaging

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"
	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/blindbid/internal/apperr"
	"github.com/sudo-init-do/blindbid/internal/marketplace"
)

var log = logging.Logger("messaging")

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// EventSource is the part of the event log a stream reads from
type EventSource interface {
	Since(listingID string, seq uint64) []marketplace.Event
	Subscribe(listingID string, buffer int) (<-chan marketplace.Event, func())
}

// Listings resolves the listing a stream is opened for
type Listings interface {
	GetListing(ctx context.Context, id string, now time.Time) (marketplace.ListingView, error)
}

type wsEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Stream pushes listing events to websocket clients
type Stream struct {
	listings Listings
	events   EventSource
	Now      func() time.Time
}

func NewStream(listings Listings, events EventSource) *Stream {
	return &Stream{listings: listings, events: events, Now: time.Now}
}

func (s *Stream) Register(g *echo.Group) {
	g.GET("/listings/:id/ws", s.ListingWS)
}

// ListingWS streams the events of one listing. Events after ?since=<seq>
// are replayed first; the protocol is server push only.
func (s *Stream) ListingWS(c echo.Context) error {
	listingID := c.Param("id")
	if listingID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing listing id"})
	}
	var since uint64
	if v := c.QueryParam("since"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "since must be a sequence number"})
		}
		since = n
	}

	view, err := s.listings.GetListing(c.Request().Context(), listingID, s.Now())
	if apperr.KindOf(err) == apperr.NotFound {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "listing not found"})
	}
	if err != nil {
		log.Errorw("listing lookup failed", "listing", listingID, "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	// subscribe before replaying so nothing falls in between
	live, cancel := s.events.Subscribe(listingID, 64)
	defer cancel()

	closed := make(chan struct{})
	go readUntilClosed(ws, closed)

	last := since
	send := func(evt marketplace.Event) error {
		if evt.Seq != 0 && evt.Seq <= last {
			return nil
		}
		last = evt.Seq
		return write(ws, wsEvent{Type: string(evt.Type), Data: evt})
	}

	if err := write(ws, wsEvent{Type: "snapshot", Data: view}); err != nil {
		return nil
	}
	for _, evt := range s.events.Since(listingID, since) {
		if err := send(evt); err != nil {
			return nil
		}
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case evt, ok := <-live:
			if !ok {
				return nil
			}
			if err := send(evt); err != nil {
				log.Debugw("stream write failed", "listing", listingID, "err", err)
				return nil
			}
		case <-ping.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		case <-closed:
			return nil
		}
	}
}

func write(ws *websocket.Conn, evt wsEvent) error {
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteJSON(evt)
}

// readUntilClosed discards client frames and closes done when the peer goes away
func readUntilClosed(ws *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}
