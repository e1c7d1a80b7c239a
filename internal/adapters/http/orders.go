package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/aretw0/idem/internal/orders"
)

// Result codes of the response envelope.
const (
	codeSuccess    = 0
	codeParamError = 1
	codeNotFound   = 12
	codeNotOwner   = 13
	codeStatus     = 14
)

// resultVO is the response envelope of the order API.
type resultVO struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data,omitempty"`
}

type orderHandler struct {
	orders *orders.Service
	logger *slog.Logger
}

func (h *orderHandler) create(w http.ResponseWriter, r *http.Request) {
	amount, err := strconv.ParseInt(r.FormValue("amount"), 10, 64)
	if err != nil {
		h.fail(w, http.StatusBadRequest, codeParamError, "amount must be an integer")
		return
	}

	o, err := h.orders.Create(r.Context(), orders.Form{
		Openid:  r.FormValue("openid"),
		Name:    r.FormValue("name"),
		Address: r.FormValue("address"),
		Amount:  amount,
	})
	if err != nil {
		h.orderError(w, err)
		return
	}

	h.logger.Info("Order created", "order_id", o.ID, "openid", o.BuyerOpenid)
	writeJSON(w, http.StatusOK, resultVO{Code: codeSuccess, Msg: "success", Data: map[string]string{"orderId": o.ID}})
}

func (h *orderHandler) list(w http.ResponseWriter, r *http.Request) {
	openid := r.URL.Query().Get("openid")
	if openid == "" {
		h.fail(w, http.StatusBadRequest, codeParamError, "openid is required")
		return
	}
	page := queryInt(r, "page", 0)
	size := queryInt(r, "size", 10)

	writeJSON(w, http.StatusOK, resultVO{Code: codeSuccess, Msg: "success", Data: h.orders.List(r.Context(), openid, page, size)})
}

func (h *orderHandler) detail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	o, err := h.orders.FindOne(r.Context(), q.Get("openid"), q.Get("orderId"))
	if err != nil {
		h.orderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultVO{Code: codeSuccess, Msg: "success", Data: o})
}

func (h *orderHandler) cancel(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Cancel(r.Context(), r.FormValue("openid"), r.FormValue("orderId"))
	if err != nil {
		h.orderError(w, err)
		return
	}
	h.logger.Info("Order canceled", "order_id", o.ID)
	writeJSON(w, http.StatusOK, resultVO{Code: codeSuccess, Msg: "success"})
}

func (h *orderHandler) orderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orders.ErrInvalidOrder):
		h.fail(w, http.StatusBadRequest, codeParamError, err.Error())
	case errors.Is(err, orders.ErrNotFound):
		h.fail(w, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, orders.ErrNotOwner):
		h.fail(w, http.StatusForbidden, codeNotOwner, err.Error())
	case errors.Is(err, orders.ErrInvalidStatus):
		h.fail(w, http.StatusConflict, codeStatus, err.Error())
	default:
		h.logger.Error("Order operation failed", "err", err)
		h.fail(w, http.StatusInternalServerError, -1, "internal error")
	}
}

func (h *orderHandler) fail(w http.ResponseWriter, status, code int, msg string) {
	writeJSON(w, status, resultVO{Code: code, Msg: msg})
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
