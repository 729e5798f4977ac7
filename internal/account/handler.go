package account

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/margex/ledger/internal/ledger"
)

// Handler exposes the funding and query HTTP endpoints of the ledger.
type Handler struct {
	service *ledger.Service
}

// NewHandler builds an account HTTP handler.
func NewHandler(service *ledger.Service) *Handler {
	return &Handler{service: service}
}

// Deposit credits confirmed external funds. Replays of the same tx_id
// return the original entry with status 200.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	var req DepositRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	res, err := h.service.Deposit(c.UserContext(), ledger.DepositInput{
		UserID:     req.UserID,
		Asset:      req.Asset,
		Amount:     req.Amount,
		TxID:       req.TxID,
		CreditedAt: req.CreditedAt,
	})
	if err != nil {
		return mapLedgerError(err)
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	return c.Status(status).JSON(MutationResponse{
		EntryID:   res.UserEntry.EntryID,
		Duplicate: res.Duplicate,
		Balance:   res.SpotBalance.Balance,
		Available: res.SpotBalance.Available,
		Reserved:  res.SpotBalance.Reserved,
	})
}

// Withdraw debits available funds towards an external destination.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	var req WithdrawRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	res, err := h.service.Withdraw(c.UserContext(), ledger.WithdrawInput{
		UserID:      req.UserID,
		Asset:       req.Asset,
		Amount:      req.Amount,
		Fee:         req.Fee,
		Destination: req.Destination,
		ExternalRef: req.ExternalRef,
	})
	if err != nil {
		return mapLedgerError(err)
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	return c.Status(status).JSON(MutationResponse{
		EntryID:   res.UserEntry.EntryID,
		Duplicate: res.Duplicate,
		Balance:   res.SpotBalance.Balance,
		Available: res.SpotBalance.Available,
		Reserved:  res.SpotBalance.Reserved,
	})
}

// Balances lists every balance row of a user.
func (h *Handler) Balances(c *fiber.Ctx) error {
	userID, err := strconv.ParseInt(c.Params("userId"), 10, 64)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid user id")
	}

	balances, err := h.service.Balances(c.UserContext(), userID)
	if err != nil {
		return mapLedgerError(err)
	}

	out := make([]BalanceResponse, 0, len(balances))
	for _, b := range balances {
		out = append(out, toBalanceResponse(b))
	}
	return c.JSON(fiber.Map{"user_id": userID, "balances": out})
}

// Entries lists a user's most recent journal legs for one asset.
func (h *Handler) Entries(c *fiber.Ctx) error {
	userID, err := strconv.ParseInt(c.Params("userId"), 10, 64)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid user id")
	}
	asset := c.Query("asset")
	if asset == "" {
		return fiber.NewError(http.StatusBadRequest, "asset is required")
	}
	limit := c.QueryInt("limit", 50)

	entries, err := h.service.Entries(c.UserContext(), userID, asset, limit)
	if err != nil {
		return mapLedgerError(err)
	}

	out := make([]EntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryResponse(e))
	}
	return c.JSON(fiber.Map{"user_id": userID, "asset": asset, "entries": out})
}

func mapLedgerError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds), errors.Is(err, ledger.ErrInsufficientReserved):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ledger.ErrConcurrencyExhausted):
		return fiber.NewError(http.StatusConflict, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
