package marketplace

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudo-init-do/blindbid/internal/apperr"
	"github.com/sudo-init-do/blindbid/internal/commitment"
)

type apiFixture struct {
	*fixture
	e   *echo.Echo
	now time.Time
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	a := &apiFixture{fixture: newFixture(t), e: echo.New(), now: t0}
	h := NewHandler(a.ctrl, a.events)
	h.Now = func() time.Time { return a.now }

	h.RegisterPublic(a.e.Group(""))
	authed := a.e.Group("")
	authed.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if uid := c.Request().Header.Get("X-Test-User"); uid != "" {
				c.Set("user_id", uid)
			}
			return next(c)
		}
	})
	h.RegisterAuthed(authed)
	return a
}

func (a *apiFixture) do(t *testing.T, method, path, user, body string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)

	out := map[string]interface{}{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func TestHTTPAuctionFlow(t *testing.T) {
	a := newAPI(t)

	code, body := a.do(t, http.MethodPost, "/listings", "", `{}`)
	require.Equal(t, http.StatusUnauthorized, code, body)

	create := `{"name":"Vizio TV","category":"Cameras","price":"10","arbiter":"arbiter",` +
		`"auction_start":"` + auctionAt.Format(time.RFC3339) + `","auction_end":"` + endAt.Format(time.RFC3339) + `"}`
	code, body = a.do(t, http.MethodPost, "/listings", "seller", create)
	require.Equal(t, http.StatusCreated, code, body)
	id := body["id"].(string)
	assert.Equal(t, "open", body["status"])

	d, err := commitment.Commit(decimal.NewFromInt(80), "hunter2")
	require.NoError(t, err)

	a.now = t0
	code, body = a.do(t, http.MethodPost, "/listings/"+id+"/bids", "bob", `{"commitment":"`+d.String()+`"}`)
	require.Equal(t, http.StatusConflict, code)
	assert.Equal(t, string(apperr.OutOfWindow), body["kind"])
	assert.Equal(t, id, body["listing_id"])
	assert.Equal(t, "submitSealedBid", body["op"])

	a.now = bidAt
	code, body = a.do(t, http.MethodPost, "/listings/"+id+"/bids", "bob", `{"commitment":"`+d.String()+`"}`)
	require.Equal(t, http.StatusCreated, code, body)

	code, body = a.do(t, http.MethodPost, "/listings/"+id+"/bids", "bob", `{"commitment":"`+d.String()+`"}`)
	require.Equal(t, http.StatusConflict, code)
	assert.Equal(t, string(apperr.DuplicateBid), body["kind"])

	code, _ = a.do(t, http.MethodPost, "/listings/"+id+"/bids", "bob", `{"commitment":"0xdead"}`)
	require.Equal(t, http.StatusBadRequest, code)

	a.now = endAt.Add(time.Minute)
	code, body = a.do(t, http.MethodPost, "/listings/"+id+"/reveal", "bob", `{"amount":"81","secret":"hunter2"}`)
	require.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, string(apperr.CommitmentMismatch), body["kind"])

	code, _ = a.do(t, http.MethodPost, "/listings/"+id+"/reveal", "bob", `{"amount":"lots","secret":"hunter2"}`)
	require.Equal(t, http.StatusBadRequest, code)

	code, body = a.do(t, http.MethodPost, "/listings/"+id+"/reveal", "bob", `{"amount":"80","secret":"hunter2"}`)
	require.Equal(t, http.StatusOK, code, body)

	code, body = a.do(t, http.MethodGet, "/listings?phase=reveal", "", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["listings"], 1)

	a.now = afterAll
	code, body = a.do(t, http.MethodPost, "/listings/"+id+"/finalize", "anyone", "")
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, false, body["already_finalized"])
	result := body["result"].(map[string]interface{})
	assert.Equal(t, "bob", result["winner"])
	assert.Equal(t, "80", result["winning_price"])

	code, body = a.do(t, http.MethodPost, "/listings/"+id+"/finalize", "someone", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["already_finalized"])

	code, body = a.do(t, http.MethodPost, "/listings/"+id+"/escrow/release", "stranger", "")
	require.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, string(apperr.UnauthorizedParty), body["kind"])

	code, _ = a.do(t, http.MethodPost, "/listings/"+id+"/escrow/release", "bob", "")
	require.Equal(t, http.StatusOK, code)
	code, body = a.do(t, http.MethodPost, "/listings/"+id+"/escrow/release", "seller", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["resolved"])

	code, body = a.do(t, http.MethodGet, "/listings/"+id+"/escrow", "", "")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["release_votes"])

	code, body = a.do(t, http.MethodGet, "/listings/"+id+"/result", "", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "bob", body["winner"])

	code, body = a.do(t, http.MethodGet, "/listings/"+id+"/events?since=1", "", "")
	require.Equal(t, http.StatusOK, code)
	events := body["events"].([]interface{})
	require.NotEmpty(t, events)
	assert.Equal(t, string(EventBidSealed), events[0].(map[string]interface{})["type"])

	code, _ = a.do(t, http.MethodGet, "/listings/"+id+"/events?since=x", "", "")
	require.Equal(t, http.StatusBadRequest, code)
}

func TestHTTPNotFound(t *testing.T) {
	a := newAPI(t)
	code, body := a.do(t, http.MethodGet, "/listings/nope", "", "")
	require.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, string(apperr.NotFound), body["kind"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, StatusFor(apperr.AlreadyResolved))
	assert.Equal(t, http.StatusForbidden, StatusFor(apperr.UnauthorizedParty))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(""))
}
