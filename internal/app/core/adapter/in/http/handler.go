package http

import (
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/JoeShih716/go-balance-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-balance-ledger/internal/app/core/usecase"
)

// 對外時間格式：RFC3339 + 毫秒，UTC
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// movementPayload POST /clientes/:id/transacoes 的 body
type movementPayload struct {
	// 保留原始 JSON，只接受純整數 (拒絕 1.5 / "100" / 負數)
	Valor     rawNumber `json:"valor"`
	Tipo      string    `json:"tipo"`
	Descricao *string   `json:"descricao"`
}

type rawNumber []byte

func (r *rawNumber) UnmarshalJSON(b []byte) error {
	*r = append((*r)[:0], b...)
	return nil
}

type movementResponse struct {
	Limite int64 `json:"limite"`
	Saldo  int64 `json:"saldo"`
}

type balanceResponse struct {
	Total       int64  `json:"total"`
	DataExtrato string `json:"data_extrato"`
	Limite      int64  `json:"limite"`
}

type statementEntry struct {
	Valor       int64  `json:"valor"`
	Tipo        string `json:"tipo"`
	Descricao   string `json:"descricao"`
	RealizadaEm string `json:"realizada_em"`
}

type statementResponse struct {
	Saldo             balanceResponse  `json:"saldo"`
	UltimasTransacoes []statementEntry `json:"ultimas_transacoes"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler 帳本的 HTTP 入口
type Handler struct {
	core   *usecase.CoreUseCase
	logger *slog.Logger
}

func NewHandler(core *usecase.CoreUseCase, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{core: core, logger: logger}
}

// Register 掛上帳戶相關路由
func (h *Handler) Register(router fiber.Router) {
	clientes := router.Group("/clientes/:id")
	clientes.Post("/transacoes", h.PostMovement)
	clientes.Get("/extrato", h.GetStatement)
}

// PostMovement POST /clientes/:id/transacoes
func (h *Handler) PostMovement(c *fiber.Ctx) error {
	accountID, ok := accountIDParam(c)
	if !ok {
		return h.fail(c, domain.ErrAccountNotFound)
	}

	var payload movementPayload
	if err := c.App().Config().JSONDecoder(c.Body(), &payload); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(errorResponse{Error: "malformed body: " + err.Error()})
	}
	amount, err := strconv.ParseUint(string(payload.Valor), 10, 64)
	if err != nil {
		return h.fail(c, &domain.ValidationError{Rule: domain.RuleAmount, Reason: "valor must be a positive integer"})
	}
	if payload.Descricao == nil {
		return h.fail(c, &domain.ValidationError{Rule: domain.RuleDescription, Reason: "descricao is required"})
	}

	state, err := h.core.PostMovement(c.UserContext(), accountID, domain.MovementRequest{
		Amount:      amount,
		Kind:        payload.Tipo,
		Description: *payload.Descricao,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(movementResponse{Limite: state.Limit, Saldo: state.Balance})
}

// GetStatement GET /clientes/:id/extrato
func (h *Handler) GetStatement(c *fiber.Ctx) error {
	accountID, ok := accountIDParam(c)
	if !ok {
		return h.fail(c, domain.ErrAccountNotFound)
	}

	stmt, err := h.core.GetStatement(c.UserContext(), accountID)
	if err != nil {
		return h.fail(c, err)
	}

	entries := make([]statementEntry, 0, len(stmt.Movements))
	for _, mv := range stmt.Movements {
		entries = append(entries, statementEntry{
			Valor:       mv.Amount,
			Tipo:        mv.Kind.String(),
			Descricao:   mv.Description,
			RealizadaEm: formatTime(mv.CreatedAt),
		})
	}
	return c.JSON(statementResponse{
		Saldo: balanceResponse{
			Total:       stmt.Balance,
			DataExtrato: formatTime(stmt.AsOf),
			Limite:      stmt.Limit,
		},
		UltimasTransacoes: entries,
	})
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	switch status {
	case fiber.StatusServiceUnavailable:
		c.Set(fiber.HeaderRetryAfter, "1")
	case fiber.StatusInternalServerError:
		h.logger.ErrorContext(c.UserContext(), "request failed",
			slog.String("path", c.Path()),
			slog.Any("error", err))
		return c.Status(status).JSON(errorResponse{Error: "internal error"})
	}
	return c.Status(status).JSON(errorResponse{Error: err.Error()})
}

// statusFor domain 錯誤 -> HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrAccountNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrValidationFailed),
		errors.Is(err, domain.ErrLimitExceeded),
		errors.Is(err, domain.ErrOverflow):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrBusy):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// 非數字的 id 視為帳戶不存在
func accountIDParam(c *fiber.Ctx) (int64, bool) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	return id, err == nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
