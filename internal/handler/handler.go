// Package handler exposes the cart promotion endpoint over HTTP. Requests
// and responses use the stable wire shape of the back-office API; all
// business decisions live in the promo engine.
package handler

import (
	"context"
	"net/http"

	"github.com/tokopos/promo-engine/internal/domain/promo"
)

// Evaluator is the engine surface the handler needs.
type Evaluator interface {
	Evaluate(ctx context.Context, cart []promo.CartLine, code string) (*promo.EvaluationResult, error)
}

// Handler serves the promotion evaluation endpoint.
type Handler struct {
	promos Evaluator
}

// NewHandler constructs a Handler over the given evaluator.
func NewHandler(promos Evaluator) *Handler {
	return &Handler{promos: promos}
}

// Register mounts the handler's routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /cart/apply-promo", h.ApplyPromo)
}
