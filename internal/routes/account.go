package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/margex/ledger/internal/account"
)

// RegisterAccountRoutes wires funding and balance query endpoints.
func RegisterAccountRoutes(r fiber.Router, h *account.Handler) {
	r.Post("/deposits", h.Deposit)
	r.Post("/withdrawals", h.Withdraw)
	r.Get("/users/:userId/balances", h.Balances)
	r.Get("/users/:userId/entries", h.Entries)
}
