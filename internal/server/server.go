// Package server exposes the ledger over HTTP. Mutating operations are JSON
// POSTs; amounts cross the wire as WAD decimal strings so no precision is
// lost to floating point.
package server

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"lendbook/internal/book"
	"lendbook/internal/token"
)

// Server routes HTTP traffic onto one Book and its two banks.
type Server struct {
	book    *book.Book
	quote   *token.Bank
	base    *token.Bank
	log     *zap.Logger
	metrics *Metrics
}

func New(b *book.Book, quote, base *token.Bank, log *zap.Logger) *Server {
	m := NewMetrics()
	m.RegisterPoolStats(b.Pools)
	return &Server{
		book:    b,
		quote:   quote,
		base:    base,
		log:     log,
		metrics: m,
	}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/deposit", s.handleDeposit)
		r.Post("/withdraw", s.handleWithdraw)
		r.Post("/borrow", s.handleBorrow)
		r.Post("/repay", s.handleRepay)
		r.Post("/take", s.handleTake)
		r.Post("/liquidate", s.handleLiquidate)
		r.Post("/change-limit-price", s.handleChangeLimitPrice)
		r.Post("/change-paired-price", s.handleChangePairedPrice)
		r.Post("/faucet", s.handleFaucet)
		r.Post("/approve", s.handleApprove)

		r.Get("/pools", s.handlePools)
		r.Get("/pools/{id}", s.handlePool)
		r.Get("/orders/{id}", s.handleOrder)
		r.Get("/positions/{id}", s.handlePosition)
		r.Get("/users/{address}", s.handleUser)
	})
	return r
}

type depositRequest struct {
	Maker        string `json:"maker"`
	PoolID       int64  `json:"pool_id"`
	PairedPoolID int64  `json:"paired_pool_id"`
	Quantity     string `json:"quantity"`
	IsBuyOrder   bool   `json:"is_buy_order"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !s.decode(w, r, &req) {
		return
	}
	maker, qty, ok := s.actorAndAmount(w, req.Maker, req.Quantity)
	if !ok {
		return
	}
	orderID, err := s.book.Deposit(maker, req.PoolID, qty, req.PairedPoolID, req.IsBuyOrder)
	s.finish(w, "deposit", err, map[string]any{"order_id": orderID})
}

type withdrawRequest struct {
	Maker    string `json:"maker"`
	OrderID  uint64 `json:"order_id"`
	Quantity string `json:"quantity"`
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if !s.decode(w, r, &req) {
		return
	}
	maker, qty, ok := s.actorAndAmount(w, req.Maker, req.Quantity)
	if !ok {
		return
	}
	err := s.book.Withdraw(maker, req.OrderID, qty)
	s.finish(w, "withdraw", err, map[string]any{"order_id": req.OrderID})
}

type borrowRequest struct {
	Borrower string `json:"borrower"`
	PoolID   int64  `json:"pool_id"`
	Quantity string `json:"quantity"`
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	var req borrowRequest
	if !s.decode(w, r, &req) {
		return
	}
	borrower, qty, ok := s.actorAndAmount(w, req.Borrower, req.Quantity)
	if !ok {
		return
	}
	positionID, err := s.book.Borrow(borrower, req.PoolID, qty)
	s.finish(w, "borrow", err, map[string]any{"position_id": positionID})
}

type repayRequest struct {
	Borrower   string `json:"borrower"`
	PositionID uint64 `json:"position_id"`
	Quantity   string `json:"quantity"`
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	var req repayRequest
	if !s.decode(w, r, &req) {
		return
	}
	borrower, qty, ok := s.actorAndAmount(w, req.Borrower, req.Quantity)
	if !ok {
		return
	}
	err := s.book.Repay(borrower, req.PositionID, qty)
	s.finish(w, "repay", err, map[string]any{"position_id": req.PositionID})
}

type takeRequest struct {
	Taker    string `json:"taker"`
	PoolID   int64  `json:"pool_id"`
	Quantity string `json:"quantity"`
}

func (s *Server) handleTake(w http.ResponseWriter, r *http.Request) {
	var req takeRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !common.IsHexAddress(req.Taker) {
		s.fail(w, "take", errBadAddress)
		return
	}
	// Zero is a legal take quantity, so the shared positive-amount parse
	// does not apply here.
	qty, ok := new(big.Int).SetString(req.Quantity, 10)
	if !ok || qty.Sign() < 0 {
		s.fail(w, "take", errBadAmount)
		return
	}
	err := s.book.Take(common.HexToAddress(req.Taker), req.PoolID, qty)
	s.finish(w, "take", err, map[string]any{"pool_id": req.PoolID})
}

type liquidateRequest struct {
	Caller     string `json:"caller"`
	PositionID uint64 `json:"position_id"`
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !common.IsHexAddress(req.Caller) {
		s.fail(w, "liquidate", errBadAddress)
		return
	}
	seized, err := s.book.Liquidate(common.HexToAddress(req.Caller), req.PositionID)
	out := map[string]any{"position_id": req.PositionID}
	if seized != nil {
		out["seized"] = seized.String()
	}
	s.finish(w, "liquidate", err, out)
}

type repriceRequest struct {
	Maker     string `json:"maker"`
	OrderID   uint64 `json:"order_id"`
	NewPoolID int64  `json:"new_pool_id"`
}

func (s *Server) handleChangeLimitPrice(w http.ResponseWriter, r *http.Request) {
	var req repriceRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !common.IsHexAddress(req.Maker) {
		s.fail(w, "change_limit_price", errBadAddress)
		return
	}
	err := s.book.ChangeLimitPrice(common.HexToAddress(req.Maker), req.OrderID, req.NewPoolID)
	s.finish(w, "change_limit_price", err, map[string]any{"order_id": req.OrderID})
}

type pairedPriceRequest struct {
	Maker           string `json:"maker"`
	OrderID         uint64 `json:"order_id"`
	NewPairedPoolID int64  `json:"new_paired_pool_id"`
}

func (s *Server) handleChangePairedPrice(w http.ResponseWriter, r *http.Request) {
	var req pairedPriceRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !common.IsHexAddress(req.Maker) {
		s.fail(w, "change_paired_price", errBadAddress)
		return
	}
	err := s.book.ChangePairedPrice(common.HexToAddress(req.Maker), req.OrderID, req.NewPairedPoolID)
	s.finish(w, "change_paired_price", err, map[string]any{"order_id": req.OrderID})
}

type bankRequest struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

func (s *Server) bank(asset string) *token.Bank {
	if asset == "base" {
		return s.base
	}
	return s.quote
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req bankRequest
	if !s.decode(w, r, &req) {
		return
	}
	addr, amount, ok := s.actorAndAmount(w, req.Address, req.Amount)
	if !ok {
		return
	}
	err := s.bank(req.Asset).Mint(addr, amount)
	s.finish(w, "faucet", err, map[string]any{"asset": req.Asset})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req bankRequest
	if !s.decode(w, r, &req) {
		return
	}
	addr, amount, ok := s.actorAndAmount(w, req.Address, req.Amount)
	if !ok {
		return
	}
	err := s.bank(req.Asset).Approve(addr, amount)
	s.finish(w, "approve", err, map[string]any{"asset": req.Asset})
}

func (s *Server) handlePools(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.book.Pools())
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bad pool id")
		return
	}
	view, err := s.book.Pool(id)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bad order id")
		return
	}
	view, err := s.book.Order(id)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "bad position id")
		return
	}
	view, err := s.book.Position(id)
	if err != nil {
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "address")
	if !common.IsHexAddress(raw) {
		s.writeError(w, http.StatusBadRequest, "bad address")
		return
	}
	s.writeJSON(w, http.StatusOK, s.book.User(common.HexToAddress(raw)))
}

var (
	errBadAddress = errors.New("address is not a valid hex address")
	errBadAmount  = errors.New("amount must be a positive decimal string")
)

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "bad request body")
		return false
	}
	return true
}

func (s *Server) actorAndAmount(w http.ResponseWriter, addr, amount string) (common.Address, *big.Int, bool) {
	if !common.IsHexAddress(addr) {
		s.writeError(w, http.StatusBadRequest, errBadAddress.Error())
		return common.Address{}, nil, false
	}
	qty, ok := new(big.Int).SetString(amount, 10)
	if !ok || qty.Sign() <= 0 {
		s.writeError(w, http.StatusBadRequest, errBadAmount.Error())
		return common.Address{}, nil, false
	}
	return common.HexToAddress(addr), qty, true
}

// finish counts the operation outcome and writes either the success payload
// or the mapped error.
func (s *Server) finish(w http.ResponseWriter, op string, err error, out map[string]any) {
	if err != nil {
		s.metrics.Operations.WithLabelValues(op, "error").Inc()
		s.log.Warn("operation rejected", zap.String("op", op), zap.Error(err))
		s.writeError(w, statusFor(err), err.Error())
		return
	}
	s.metrics.Operations.WithLabelValues(op, "ok").Inc()
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	s.metrics.Operations.WithLabelValues(op, "error").Inc()
	s.writeError(w, http.StatusBadRequest, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, book.ErrUnknownPool),
		errors.Is(err, book.ErrUnknownOrder),
		errors.Is(err, book.ErrUnknownPosition):
		return http.StatusNotFound
	case errors.Is(err, book.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, book.ErrInvalidQuantity),
		errors.Is(err, book.ErrPoolOutOfRange),
		errors.Is(err, book.ErrPriceOrdering),
		errors.Is(err, book.ErrBelowMinDeposit):
		return http.StatusBadRequest
	default:
		return http.StatusConflict
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
