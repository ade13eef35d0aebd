package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/skyshop/internal/domain"
)

func (a *api) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := a.orders.List(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(orders, newOrderResponse))
}

func (a *api) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := a.orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(order))
}

func (a *api) createOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	order, err := a.orders.Create(r.Context(), req.toInput())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newOrderResponse(order))
}

func (a *api) updateOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	order, err := a.orders.Update(r.Context(), chi.URLParam(r, "id"), req.toInput())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(order))
}

func (a *api) deleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := a.orders.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *api) payOnline(w http.ResponseWriter, r *http.Request) {
	order, err := a.orders.PayOnline(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("cardToken"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(order))
}

func (a *api) payOffline(w http.ResponseWriter, r *http.Request) {
	order, err := a.orders.PayOffline(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(order))
}

func (a *api) setStatus(w http.ResponseWriter, r *http.Request) {
	order, err := a.orders.SetStatus(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("status"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(order))
}

func (a *api) orderTimeline(w http.ResponseWriter, r *http.Request) {
	events, err := a.orders.Timeline(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(events, func(e domain.TimelineEvent) timelineEventResponse {
		return timelineEventResponse{Type: e.Type, Reason: e.Reason, Occurred: e.Occurred}
	}))
}
