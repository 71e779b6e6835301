package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-order-engine/internal/orders"
	"github.com/ariefcatur/go-order-engine/internal/processor"
	"github.com/ariefcatur/go-order-engine/internal/redisx"
)

// IdempotencyStore maps an Idempotency-Key to the order it created.
type IdempotencyStore interface {
	Lookup(ctx context.Context, key string) (string, bool, error)
	Remember(ctx context.Context, key, orderID string) error
}

type StatusReader interface {
	Status(ctx context.Context, orderID string) (redisx.StatusEntry, bool, error)
	SetStatus(ctx context.Context, orderID string, status orders.Status, at time.Time) error
}

type OrdersHandler struct {
	Processor *processor.Processor
	// optional
	Idempotency IdempotencyStore
	Statuses    StatusReader
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getOrder)
			r.Get("/status", h.getStatus)
			r.Get("/history", h.getHistory)
			r.Get("/errors", h.getOrderErrors)
			r.Post("/confirm", h.confirm)
			r.Post("/cancel", h.cancel)
			r.Post("/advance", h.advance)
			r.Post("/verification", h.verification)
		})
	})
	r.Get("/errors", h.listErrors)
	r.Post("/errors/{id}/resolve", h.resolveError)
	r.Post("/queue/claim", h.claimQueue)
	r.Post("/queue/{id}/complete", h.completeQueue)
	r.Post("/queue/{id}/fail", h.failQueue)
}

type confirmReq struct {
	Note  string       `json:"note"`
	Actor orders.Actor `json:"actor"`
}

func (r confirmReq) Validate() error {
	return validation.ValidateStruct(&r, validation.Field(&r.Actor, validActor))
}

type cancelReq struct {
	Reason string       `json:"reason"`
	Actor  orders.Actor `json:"actor"`
}

func (r cancelReq) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Reason, validation.Required, validation.Length(1, 500)),
		validation.Field(&r.Actor, validActor),
	)
}

type advanceReq struct {
	Status orders.Status `json:"status"`
	Reason string        `json:"reason"`
	Actor  orders.Actor  `json:"actor"`
}

func (r advanceReq) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Status, validation.Required,
			validation.In(orders.StatusProcessing, orders.StatusShipped, orders.StatusDelivered)),
		validation.Field(&r.Actor, validActor),
	)
}

type verificationReq struct {
	Decision orders.VerificationDecision `json:"status"`
	Reason   string                      `json:"reason"`
	Cancel   bool                        `json:"cancel"`
}

func (r verificationReq) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Decision, validation.Required,
			validation.In(orders.VerificationApproved, orders.VerificationDenied)),
	)
}

type resolveReq struct {
	ResolvedBy string `json:"resolved_by"`
	Notes      string `json:"notes"`
}

func (r resolveReq) Validate() error {
	return validation.ValidateStruct(&r, validation.Field(&r.ResolvedBy, validation.Required))
}

type claimReq struct {
	Categories []orders.QueueCategory `json:"categories"`
	Limit      int                    `json:"limit"`
}

func (r claimReq) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Categories, validation.Each(validation.In(
			orders.QueueNewOrder, orders.QueuePayment, orders.QueueFulfillment,
			orders.QueueNotification, orders.QueueVerification))),
		validation.Field(&r.Limit, validation.Min(0), validation.Max(500)),
	)
}

type failReq struct {
	Reason string `json:"reason"`
}

func (r failReq) Validate() error {
	return validation.ValidateStruct(&r, validation.Field(&r.Reason, validation.Required))
}

var validActor = validation.In(orders.ActorSystem, orders.ActorAdmin, orders.ActorCustomer, orders.ActorAutomation)

// decode reads an optional JSON body into v and validates it. It writes the response on failure.
func decode(w http.ResponseWriter, r *http.Request, v validation.Validatable) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid json")
		return false
	}
	if err := v.Validate(); err != nil {
		writeError(w, r, requestError(err))
		return false
	}
	return true
}

func actorOr(a, def orders.Actor) orders.Actor {
	if a == "" {
		return def
	}
	return a
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req orders.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// Fast-path idempotency via Redis; the unique external_id stays the source of truth.
	key := r.Header.Get("Idempotency-Key")
	if key != "" && h.Idempotency != nil {
		if orderID, ok, err := h.Idempotency.Lookup(ctx, key); err == nil && ok {
			if v, err := h.Processor.Get(ctx, orderID); err == nil {
				writeJSON(w, http.StatusOK, processor.CreateResult{Order: v.Order, Items: v.Items, Reservations: v.Reservations, Idempotent: true})
				return
			}
		}
	}
	if req.ExternalID == "" {
		req.ExternalID = key
	}
	if req.ClientIP == "" {
		req.ClientIP = clientIP(r)
	}
	if req.UserAgent == "" {
		req.UserAgent = r.UserAgent()
	}

	res, err := h.Processor.Create(ctx, &req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if key != "" && h.Idempotency != nil {
		if err := h.Idempotency.Remember(ctx, key, res.Order.ID); err != nil {
			logrus.WithField("order_id", res.Order.ID).WithError(err).Warn("remember idempotency key")
		}
	}

	code := http.StatusCreated
	if res.Idempotent {
		code = http.StatusOK
	}
	writeJSON(w, code, res)
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	v, err := h.Processor.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type statusResp struct {
	OrderID   string        `json:"order_id"`
	Status    orders.Status `json:"status"`
	UpdatedAt time.Time     `json:"updated_at"`
	Cached    bool          `json:"cached"`
}

func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) cache
	if h.Statuses != nil {
		if e, ok, err := h.Statuses.Status(ctx, orderID); err == nil && ok {
			writeJSON(w, http.StatusOK, statusResp{OrderID: orderID, Status: e.Status, UpdatedAt: e.UpdatedAt, Cached: true})
			return
		}
	}

	// 2) store
	v, err := h.Processor.Get(ctx, orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if h.Statuses != nil {
		_ = h.Statuses.SetStatus(ctx, orderID, v.Order.Status, v.Order.UpdatedAt)
	}
	writeJSON(w, http.StatusOK, statusResp{OrderID: orderID, Status: v.Order.Status, UpdatedAt: v.Order.UpdatedAt})
}

func (h *OrdersHandler) getHistory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	orderID := chi.URLParam(r, "id")
	if _, err := h.Processor.Get(ctx, orderID); err != nil {
		writeError(w, r, err)
		return
	}
	hs, err := h.Processor.HistoryOf(ctx, orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hs)
}

func (h *OrdersHandler) getOrderErrors(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	es, err := h.Processor.Errors.ForOrder(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(es))
}

func (h *OrdersHandler) confirm(w http.ResponseWriter, r *http.Request) {
	var req confirmReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Processor.Confirm(ctx, chi.URLParam(r, "id"), req.Note, actorOr(req.Actor, orders.ActorAdmin))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Processor.Cancel(ctx, chi.URLParam(r, "id"), req.Reason, actorOr(req.Actor, orders.ActorAdmin))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) advance(w http.ResponseWriter, r *http.Request) {
	var req advanceReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Processor.Advance(ctx, chi.URLParam(r, "id"), req.Status, actorOr(req.Actor, orders.ActorAdmin), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) verification(w http.ResponseWriter, r *http.Request) {
	var req verificationReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Processor.ApplyVerification(ctx, orders.VerificationOutcome{
		OrderID:  chi.URLParam(r, "id"),
		Decision: req.Decision,
		Reason:   req.Reason,
		Cancel:   req.Cancel,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) listErrors(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeBadRequest(w, "invalid limit")
			return
		}
		limit = n
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	es, err := h.Processor.Errors.Unresolved(ctx, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(es))
}

func (h *OrdersHandler) resolveError(w http.ResponseWriter, r *http.Request) {
	var req resolveReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	e, err := h.Processor.Errors.Resolve(ctx, chi.URLParam(r, "id"), req.ResolvedBy, req.Notes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *OrdersHandler) claimQueue(w http.ResponseWriter, r *http.Request) {
	var req claimReq
	if !decode(w, r, &req) {
		return
	}
	if req.Limit == 0 {
		req.Limit = 10
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	items, err := h.Processor.Queue.Claim(ctx, req.Categories, req.Limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(items))
}

func (h *OrdersHandler) completeQueue(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	it, err := h.Processor.Queue.Complete(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (h *OrdersHandler) failQueue(w http.ResponseWriter, r *http.Request) {
	var req failReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	it, err := h.Processor.Queue.Fail(ctx, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
