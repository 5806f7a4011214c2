// Package handler exposes checkout sessions over HTTP.
//
// A browser checkout page opens a session for its cart and then drives the
// address cascade, coupon and submission through session-scoped routes.
package handler

import (
	"bytes"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-checkout/internal/domain/address"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
)

const (
	defaultProofSize   = 5 << 20
	defaultAttemptPage = 50
	maxAttemptPage     = 500
)

// Options configure a Handler.
type Options struct {
	// MaxProofSize bounds the uploaded payment proof.
	MaxProofSize int64
	// Throttle guards session creation and coupon attempts. Nil disables it.
	Throttle func(http.Handler) http.Handler
}

// Handler serves the checkout API.
type Handler struct {
	sessions *Registry
	attempts checkout.AttemptLister
	opts     Options
}

// New creates a Handler. attempts may be nil, which disables the attempt
// listing.
func New(sessions *Registry, attempts checkout.AttemptLister, opts Options) *Handler {
	if opts.MaxProofSize <= 0 {
		opts.MaxProofSize = defaultProofSize
	}
	if opts.Throttle == nil {
		opts.Throttle = func(h http.Handler) http.Handler { return h }
	}
	return &Handler{sessions: sessions, attempts: attempts, opts: opts}
}

// RoutePattern returns the chi route template of a served request.
func RoutePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		return rc.RoutePattern()
	}
	return ""
}

// Router returns the API routes. Middlewares run inside chi routing, so they
// can see the route pattern.
func (h *Handler) Router(middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middlewares...)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, malformed("no route for %s %s", r.Method, r.URL.Path))
	})
	r.Route("/api/checkout", func(r chi.Router) {
		r.With(h.opts.Throttle).Post("/sessions", h.openSession)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", h.getSession)
			r.Delete("/", h.closeSession)
			r.Get("/options/{level}", h.listOptions)
			r.Put("/address/{level}", h.selectAddress)
			r.Put("/landmark", h.setLandmark)
			r.Put("/payment-method", h.setMethod)
			r.Post("/shipping/retry", h.retryShipping)
			r.With(h.opts.Throttle).Post("/coupon", h.applyCoupon)
			r.Delete("/coupon", h.removeCoupon)
			r.Post("/submit", h.submit)
			r.Post("/qr/proof", h.submitProof)
			r.Delete("/qr", h.closeQR)
		})
	})
	return r
}

// AdminRouter returns the operator routes. They expose every cart's attempts
// and must only be served on an internal listener.
func (h *Handler) AdminRouter(middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middlewares...)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, malformed("no route for %s %s", r.Method, r.URL.Path))
	})
	r.Get("/admin/checkout/attempts", h.listAttempts)
	return r
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*checkout.Session, bool) {
	s, ok := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		writeError(w, r, errSessionNotFound)
		return nil, false
	}
	return s, true
}

// writeSession responds with the current view of s.
func (h *Handler) writeSession(w http.ResponseWriter, r *http.Request, code int, s *checkout.Session) {
	ov, err := s.Overview(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	var e jx.Encoder
	encodeSession(&e, s, ov)
	writeJSON(w, code, &e)
}

func (h *Handler) writeResult(w http.ResponseWriter, res checkout.Result) {
	var e jx.Encoder
	encodeResult(&e, res)
	writeJSON(w, resultStatus(res), &e)
}

func (h *Handler) openSession(w http.ResponseWriter, r *http.Request) {
	p, err := decodeOpen(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s := h.sessions.Open(r.Context(), p)
	h.writeSession(w, r, http.StatusCreated, s)
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	if s, ok := h.session(w, r); ok {
		h.writeSession(w, r, http.StatusOK, s)
	}
}

func (h *Handler) closeSession(w http.ResponseWriter, r *http.Request) {
	if !h.sessions.Close(chi.URLParam(r, "sessionID")) {
		writeError(w, r, errSessionNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listOptions(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	level, err := address.ParseLevel(chi.URLParam(r, "level"))
	if err != nil {
		writeError(w, r, malformed("%v", err))
		return
	}
	opts := s.Address.Options(level)
	if level == address.LevelCity && len(opts) == 0 {
		if err := s.Address.LoadCities(r.Context()); err != nil {
			writeError(w, r, err)
			return
		}
		opts = s.Address.Options(level)
	}
	var e jx.Encoder
	encodeOptions(&e, level, opts)
	writeJSON(w, http.StatusOK, &e)
}

func (h *Handler) selectAddress(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	level, err := address.ParseLevel(chi.URLParam(r, "level"))
	if err != nil {
		writeError(w, r, malformed("%v", err))
		return
	}
	id, err := decodeString(w, r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	switch level {
	case address.LevelCity:
		err = s.Address.SelectCity(ctx, id)
	case address.LevelZone:
		err = s.Address.SelectZone(ctx, id)
	case address.LevelArea:
		err = s.Address.SelectArea(ctx, id)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeSession(w, r, http.StatusOK, s)
}

func (h *Handler) setLandmark(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	landmark, err := decodeString(w, r, "landmark")
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.Address.SetLandmark(landmark)
	h.writeSession(w, r, http.StatusOK, s)
}

func (h *Handler) setMethod(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	raw, err := decodeString(w, r, "method")
	if err != nil {
		writeError(w, r, err)
		return
	}
	m, err := pricing.ParseMethod(raw)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.Address.SetMethod(r.Context(), m)
	h.writeSession(w, r, http.StatusOK, s)
}

func (h *Handler) retryShipping(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	s.Address.RetryShipping(r.Context())
	h.writeSession(w, r, http.StatusOK, s)
}

func (h *Handler) applyCoupon(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	code, err := decodeString(w, r, "code")
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.ApplyCoupon(r.Context(), code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var e jx.Encoder
	encodeCouponResult(&e, res)
	writeJSON(w, http.StatusOK, &e)
}

func (h *Handler) removeCoupon(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.RemoveCoupon(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	h.writeSession(w, r, http.StatusOK, s)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	form, err := decodeForm(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeResult(w, s.Submit(r.Context(), form))
}

func (h *Handler) submitProof(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	file, err := h.readProof(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeResult(w, s.Checkout.SubmitProof(r.Context(), file))
}

// readProof reads the "file" part of a multipart upload. A request without a
// file yields an empty proof, which the orchestrator rejects.
func (h *Handler) readProof(w http.ResponseWriter, r *http.Request) (checkout.ProofFile, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxProofSize+1<<20)
	mr, err := r.MultipartReader()
	if err != nil {
		return checkout.ProofFile{}, malformed("expected multipart form: %v", err)
	}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return checkout.ProofFile{}, nil
		}
		if err != nil {
			return checkout.ProofFile{}, malformed("read multipart form: %v", err)
		}
		if part.FormName() != "file" {
			_ = part.Close()
			continue
		}

		var buf bytes.Buffer
		n, err := io.Copy(&buf, io.LimitReader(part, h.opts.MaxProofSize+1))
		_ = part.Close()
		if err != nil {
			return checkout.ProofFile{}, malformed("read file: %v", err)
		}
		if n > h.opts.MaxProofSize {
			return checkout.ProofFile{}, malformed("file exceeds %d bytes", h.opts.MaxProofSize)
		}
		return checkout.ProofFile{
			Filename:    part.FileName(),
			ContentType: part.Header.Get("Content-Type"),
			Data:        buf.Bytes(),
		}, nil
	}
}

func (h *Handler) closeQR(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	s.Checkout.CloseQR()
	h.writeSession(w, r, http.StatusOK, s)
}

func (h *Handler) listAttempts(w http.ResponseWriter, r *http.Request) {
	if h.attempts == nil {
		writeError(w, r, malformed("attempt journal is not configured"))
		return
	}
	q := r.URL.Query()
	limit := defaultAttemptPage
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, malformed("invalid limit %q", v))
			return
		}
		limit = min(n, maxAttemptPage)
	}
	outcome := checkout.Outcome(q.Get("outcome"))

	attempts, err := h.attempts.List(r.Context(), outcome, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var e jx.Encoder
	encodeAttempts(&e, attempts)
	writeJSON(w, http.StatusOK, &e)
}
