package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/tokopos/promo-engine/internal/domain/promo"
)

const maxBodyBytes = 1 << 20

// ApplyPromo handles POST /cart/apply-promo: decode the cart and optional
// code, evaluate, and map the outcome onto the wire contract.
// Business-rule misses map to 400/404; only defects produce a 500.
func (h *Handler) ApplyPromo(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "request body too large or unreadable")
		return
	}

	cart, code, err := decodeApplyRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cart: malformed request body")
		return
	}

	result, err := h.promos.Evaluate(r.Context(), cart, code)
	if err != nil {
		status, message := mapEvaluateError(err)
		if status == http.StatusInternalServerError {
			zctx.From(r.Context()).Error("promo evaluation failed", zap.Error(err))
		}
		writeError(w, status, message)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(encodeResult(result))
}

// mapEvaluateError converts engine errors to HTTP status and message:
// cart/purchase/bundle misses are client errors, unknown or exhausted codes
// are 404, everything else is an internal defect.
func mapEvaluateError(err error) (int, string) {
	switch {
	case errors.Is(err, promo.ErrInvalidCart),
		errors.Is(err, promo.ErrMinPurchaseNotMet),
		errors.Is(err, promo.ErrBundleRequirementsNotMet):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, promo.ErrPromoNotFound),
		errors.Is(err, promo.ErrPromoExpired),
		errors.Is(err, promo.ErrUsageLimitReached):
		return http.StatusNotFound, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// decodeApplyRequest parses {cart: [{productId, price, quantity, categoryId?}], promoCode?}.
func decodeApplyRequest(data []byte) ([]promo.CartLine, string, error) {
	var (
		cart []promo.CartLine
		code string
	)

	d := jx.DecodeBytes(data)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "cart":
			return d.Arr(func(d *jx.Decoder) error {
				var line promo.CartLine
				if err := d.Obj(func(d *jx.Decoder, key string) error {
					switch key {
					case "productId":
						v, err := d.Str()
						line.ProductID = v
						return err
					case "price":
						v, err := d.Float64()
						line.UnitPrice = decimal.NewFromFloat(v)
						return err
					case "quantity":
						v, err := d.Int()
						line.Quantity = v
						return err
					case "categoryId":
						v, err := d.Str()
						line.CategoryID = v
						return err
					default:
						return d.Skip()
					}
				}); err != nil {
					return err
				}
				cart = append(cart, line)
				return nil
			})
		case "promoCode":
			v, err := d.Str()
			code = v
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, "", errors.Wrap(err, "decode apply-promo request")
	}

	return cart, code, nil
}

// encodeResult renders the success envelope:
// {success, data: {subtotal, discount, total, appliedPromo, savings}}.
func encodeResult(res *promo.EvaluationResult) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("success", func(e *jx.Encoder) { e.Bool(true) })
		e.Field("data", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("subtotal", func(e *jx.Encoder) { e.Float64(res.Subtotal.InexactFloat64()) })
				e.Field("discount", func(e *jx.Encoder) { e.Float64(res.Discount.InexactFloat64()) })
				e.Field("total", func(e *jx.Encoder) { e.Float64(res.Total.InexactFloat64()) })
				e.Field("appliedPromo", func(e *jx.Encoder) {
					if len(res.Applied) == 0 {
						e.Null()
						return
					}
					e.Arr(func(e *jx.Encoder) {
						for _, a := range res.Applied {
							e.Obj(func(e *jx.Encoder) {
								e.Field("code", func(e *jx.Encoder) { e.Str(a.Code) })
								e.Field("name", func(e *jx.Encoder) { e.Str(a.Name) })
								e.Field("scope", func(e *jx.Encoder) { e.Str(string(a.Scope)) })
								e.Field("amount", func(e *jx.Encoder) { e.Float64(a.Amount.InexactFloat64()) })
								e.Field("description", func(e *jx.Encoder) { e.Str(a.Description) })
							})
						}
					})
				})
				e.Field("savings", func(e *jx.Encoder) {
					if !res.Discount.IsPositive() {
						e.Null()
						return
					}
					e.Obj(func(e *jx.Encoder) {
						e.Field("amount", func(e *jx.Encoder) { e.Float64(res.Discount.InexactFloat64()) })
						e.Field("percentage", func(e *jx.Encoder) { e.Float64(res.SavingsPercent.InexactFloat64()) })
					})
				})
			})
		})
	})
	return e.Bytes()
}

// writeError renders the failure envelope {success: false, error}.
func writeError(w http.ResponseWriter, status int, message string) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("success", func(e *jx.Encoder) { e.Bool(false) })
		e.Field("error", func(e *jx.Encoder) { e.Str(message) })
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
