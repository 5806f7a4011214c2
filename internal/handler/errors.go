package handler

import (
	"fmt"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/address"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/remote"
)

const msgRemoteFailed = "storefront service is unavailable, please try again"

var errSessionNotFound = errors.New("checkout session not found")

// badRequest marks malformed input.
type badRequest struct {
	msg string
}

func (e *badRequest) Error() string { return e.msg }

func malformed(format string, args ...any) error {
	return &badRequest{msg: fmt.Sprintf(format, args...)}
}

// statusOf maps a domain error to its HTTP status and customer message.
func statusOf(err error) (int, string) {
	var (
		bad  *badRequest
		val  *checkout.ValidationError
		inel *coupon.IneligibleError
		rej  *remote.RejectionError
	)
	switch {
	case errors.As(err, &bad):
		return http.StatusBadRequest, bad.msg
	case errors.Is(err, errSessionNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, checkout.ErrBusy):
		return http.StatusConflict, checkout.ErrBusy.Msg
	case errors.As(err, &val):
		return http.StatusUnprocessableEntity, val.Msg
	case errors.As(err, &inel):
		return http.StatusUnprocessableEntity, inel.Error()
	case errors.Is(err, coupon.ErrEmptyCode),
		errors.Is(err, coupon.ErrNoBenefit),
		errors.Is(err, address.ErrParentUnset),
		errors.Is(err, address.ErrUnknownOption),
		errors.Is(err, address.ErrUnknownLevel),
		errors.Is(err, pricing.ErrUnknownMethod):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.As(err, &rej):
		return http.StatusBadGateway, remote.Message(err, msgRemoteFailed)
	default:
		return http.StatusBadGateway, msgRemoteFailed
	}
}

func writeJSON(w http.ResponseWriter, code int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := statusOf(err)
	if code >= http.StatusInternalServerError {
		zctx.From(r.Context()).Warn("Request failed", zap.Int("status", code), zap.Error(err))
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(code)
	e.FieldStart("message")
	e.Str(msg)
	e.ObjEnd()
	writeJSON(w, code, &e)
}

// resultStatus is the HTTP status of a submission result. The body is always
// the result itself.
func resultStatus(res checkout.Result) int {
	switch res.Outcome {
	case checkout.OutcomeConfirmed, checkout.OutcomeRedirected, checkout.OutcomeAwaitingProof:
		return http.StatusOK
	case checkout.OutcomeRejected:
		if errors.Is(res.Err, checkout.ErrBusy) {
			return http.StatusConflict
		}
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}
