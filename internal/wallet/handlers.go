package wallet

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/blindbid/internal/apperr"
)

// Handler serves the authenticated user's wallet
type Handler struct {
	book Book
}

func NewHandler(book Book) *Handler {
	return &Handler{book: book}
}

func (h *Handler) Register(g *echo.Group) {
	g.GET("/wallet/balance", h.Balance)
	g.GET("/wallet/transactions", h.Transactions)
}

// Balance returns the authenticated user's wallet balance
func (h *Handler) Balance(c echo.Context) error {
	userID, ok := c.Get("user_id").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	w, err := h.book.Balance(c.Request().Context(), userID)
	if apperr.KindOf(err) == apperr.NotFound {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "wallet not found"})
	}
	if err != nil {
		log.Errorw("balance lookup failed", "user", userID, "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not fetch balance"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"user_id": userID,
		"balance": w.Balance.String(),
	})
}

// Transactions lists the settlements credited to the authenticated user
func (h *Handler) Transactions(c echo.Context) error {
	userID, ok := c.Get("user_id").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized or invalid user"})
	}

	txs, err := h.book.Transactions(c.Request().Context(), userID)
	if err != nil {
		log.Errorw("transaction lookup failed", "user", userID, "err", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not fetch transactions"})
	}
	if txs == nil {
		txs = []Transaction{}
	}
	return c.JSON(http.StatusOK, txs)
}
