package alerts

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Handler serves the authenticated user's notifications
type Handler struct {
	inbox Inbox
	Now   func() time.Time
}

func NewHandler(inbox Inbox) *Handler {
	return &Handler{inbox: inbox, Now: time.Now}
}

func (h *Handler) Register(g *echo.Group) {
	g.GET("/notifications", h.ListNotifications)
	g.POST("/notifications/:id/read", h.MarkNotificationRead)
}

// ListNotifications returns current user's notifications, newest first
func (h *Handler) ListNotifications(c echo.Context) error {
	userID, ok := c.Get("user_id").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	items, err := h.inbox.List(c.Request().Context(), userID)
	if err != nil {
		log.Errorw("notifications lookup failed", "user", userID, "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load notifications"})
	}
	if items == nil {
		items = []Notification{}
	}
	return c.JSON(http.StatusOK, echo.Map{"notifications": items})
}

// MarkNotificationRead marks specific notification as read
func (h *Handler) MarkNotificationRead(c echo.Context) error {
	userID, ok := c.Get("user_id").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	nid := c.Param("id")
	if nid == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing notification id"})
	}

	updated, err := h.inbox.MarkRead(c.Request().Context(), userID, nid, h.Now())
	if err != nil {
		log.Errorw("mark read failed", "user", userID, "id", nid, "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update"})
	}
	if !updated {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found or already read"})
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "ok"})
}
