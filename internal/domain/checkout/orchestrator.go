// Package checkout places orders from a checkout session.
//
// Each payment method has its own completion protocol. Cash on delivery
// creates the order in one call. Khalti creates the order and then starts a
// hosted payment; an order whose payment could not be started stays persisted
// and unpaid. QR defers order creation until a proof image is attached and
// cancels the order again if the proof upload fails.
package checkout

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/address"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/remote"
)

const compensationReason = "payment proof upload failed"

// NoticeLevel is the severity of a customer notification.
type NoticeLevel string

// Notification levels.
const (
	NoticeSuccess NoticeLevel = "success"
	NoticeInfo    NoticeLevel = "info"
	NoticeError   NoticeLevel = "error"
)

// Notice is a customer notification.
type Notice struct {
	Level   NoticeLevel
	Message string
}

// NavigationKind tells the client how to follow a Navigation.
type NavigationKind string

// Navigation kinds.
const (
	NavigateInternal NavigationKind = "internal"
	NavigateExternal NavigationKind = "external"
)

// Navigation is a request to move the customer to another page.
type Navigation struct {
	Kind   NavigationKind
	Target string
}

// QRPrompt is the content of the QR payment dialog.
type QRPrompt struct {
	DisplayName string
	Image       string
	Amount      decimal.Decimal
}

// Result is the outcome of a submission step.
type Result struct {
	Outcome  Outcome
	Notice   Notice
	Navigate *Navigation
	// Order is set when the order is persisted and remains so.
	Order *CreatedOrder
	QR    *QRPrompt
	// Err is the underlying failure, nil on success.
	Err error
}

// Services are the remote collaborators of the orchestrator.
type Services struct {
	Orders OrderAPI
	Khalti KhaltiGateway
	QR     QRPayments
}

// Options configure an Orchestrator. Zero values are replaced with defaults.
type Options struct {
	// ConfirmationPath is the page COD and QR orders navigate to. The order id
	// is appended as the last path segment.
	ConfirmationPath string
	Journal          Journal
	Metrics          *Metrics
	TracerProvider   trace.TracerProvider
}

func (o *Options) setDefaults() {
	if o.ConfirmationPath == "" {
		o.ConfirmationPath = "/order-confirmation"
	}
	if o.Journal == nil {
		o.Journal = NopJournal{}
	}
	if o.Metrics == nil {
		o.Metrics = nopMetrics()
	}
	if o.TracerProvider == nil {
		o.TracerProvider = tracenoop.NewTracerProvider()
	}
}

type pendingQR struct {
	form    FormValues
	config  QRConfig
	payload *OrderPayload
}

// Orchestrator runs submissions of a single checkout. All entry points share
// one Guard.
type Orchestrator struct {
	svc          Services
	journal      Journal
	metrics      *Metrics
	tracer       trace.Tracer
	confirmation string

	cartID string
	store  cart.Store
	addr   AddressState
	guard  *Guard

	mu      sync.Mutex
	pending *pendingQR

	newID func() string
	now   func() time.Time
}

// NewOrchestrator creates an orchestrator for the cart behind store.
func NewOrchestrator(svc Services, cartID string, store cart.Store, addr AddressState, guard *Guard, opts Options) *Orchestrator {
	opts.setDefaults()
	return &Orchestrator{
		svc:          svc,
		journal:      opts.Journal,
		metrics:      opts.Metrics,
		tracer:       opts.TracerProvider.Tracer("checkout"),
		confirmation: strings.TrimRight(opts.ConfirmationPath, "/"),
		cartID:       cartID,
		store:        store,
		addr:         addr,
		guard:        guard,
		newID:        uuid.NewString,
		now:          time.Now,
	}
}

// Guard returns the submission guard.
func (o *Orchestrator) Guard() *Guard { return o.guard }

// Submit validates the checkout and runs the completion protocol of the
// selected payment method. For QR it only opens the payment dialog.
func (o *Orchestrator) Submit(ctx context.Context, form FormValues) Result {
	ctx, span := o.tracer.Start(ctx, "checkout.submit")
	defer span.End()

	if !o.guard.Acquire() {
		return o.finish(ctx, nil, nil, rejected(ErrBusy))
	}

	p, res, ok := o.prepare(ctx, form)
	if !ok {
		return o.finish(ctx, nil, nil, res)
	}
	span.SetAttributes(attribute.String("checkout.method", string(p.PaymentMethod)))

	switch p.PaymentMethod {
	case pricing.MethodKhalti:
		return o.submitKhalti(ctx, p)
	case pricing.MethodQR:
		return o.openQR(ctx, p, form)
	default:
		return o.submitCOD(ctx, p)
	}
}

// prepare reads the cart and address, checks the local preconditions and
// builds the payload. On failure the guard is already released.
func (o *Orchestrator) prepare(ctx context.Context, form FormValues) (*OrderPayload, Result, bool) {
	snap, err := o.store.Snapshot(ctx)
	if err != nil {
		o.guard.Release(PhaseFailed)
		return nil, failure(OutcomeFailed, errors.Wrap(err, "read cart"), msgCartUnavailable), false
	}
	st := o.addr.State()
	if err := validate(snap, st, form); err != nil {
		o.guard.Release(PhaseIdle)
		return nil, rejected(err), false
	}
	summary := pricing.Calculate(snap, st.Method, st.Quote)
	return BuildPayload(o.newID(), form, snap, st, summary), Result{}, true
}

func (o *Orchestrator) submitCOD(ctx context.Context, p *OrderPayload) Result {
	order, res, ok := o.create(ctx, p)
	if !ok {
		return res
	}
	o.clearCart(ctx, order)
	o.guard.Hold()
	return o.finish(ctx, p, order, Result{
		Outcome:  OutcomeConfirmed,
		Notice:   Notice{Level: NoticeSuccess, Message: "Order placed successfully"},
		Navigate: o.confirmationPage(order),
		Order:    order,
	})
}

// submitKhalti creates the order before starting the hosted payment. The cart
// is kept until the payment is verified on return.
func (o *Orchestrator) submitKhalti(ctx context.Context, p *OrderPayload) Result {
	order, res, ok := o.create(ctx, p)
	if !ok {
		return res
	}

	o.guard.Await(StepInitiatePayment)
	paymentURL, err := o.svc.Khalti.InitiateKhalti(ctx, order.DisplayOrderID)
	if err != nil {
		zctx.From(ctx).Warn("Khalti initiation failed, order left unpaid",
			zap.String("order_id", order.ID),
			zap.String("display_order_id", order.DisplayOrderID),
			zap.Error(err),
		)
		o.guard.Release(PhaseFailed)
		res := failure(OutcomeInitiationFailed, err, msgInitiateFailed)
		res.Order = order
		return o.finish(ctx, p, order, res)
	}

	o.guard.Hold()
	return o.finish(ctx, p, order, Result{
		Outcome:  OutcomeRedirected,
		Notice:   Notice{Level: NoticeInfo, Message: "Redirecting to Khalti"},
		Navigate: &Navigation{Kind: NavigateExternal, Target: paymentURL},
		Order:    order,
	})
}

// openQR fetches the merchant QR and stores the pending dialog. Nothing is
// persisted until SubmitProof.
func (o *Orchestrator) openQR(ctx context.Context, p *OrderPayload, form FormValues) Result {
	o.guard.Await(StepFetchQRConfig)
	cfg, err := o.svc.QR.QRConfig(ctx)
	if err != nil {
		o.guard.Release(PhaseFailed)
		return o.finish(ctx, p, nil, failure(OutcomeFailed, err, msgQRConfigFailed))
	}

	pending := &pendingQR{form: form, config: *cfg, payload: p}
	o.mu.Lock()
	o.pending = pending
	o.mu.Unlock()

	o.guard.Release(PhaseIdle)
	return o.finish(ctx, p, nil, Result{
		Outcome: OutcomeAwaitingProof,
		Notice:  Notice{Level: NoticeInfo, Message: "Scan the QR code, pay the amount and attach a screenshot of the payment"},
		QR:      pending.prompt(),
	})
}

// SubmitProof places the pending QR order and uploads its payment proof. The
// order is created from the payload built when the dialog opened. If the cart
// or address no longer prices to the same lines and amounts, the dialog is
// closed and nothing is created. When the upload fails the just-created order
// is cancelled and the dialog is closed, so a new attempt starts from a fresh
// submission.
func (o *Orchestrator) SubmitProof(ctx context.Context, file ProofFile) Result {
	ctx, span := o.tracer.Start(ctx, "checkout.submit_proof")
	defer span.End()

	if len(file.Data) == 0 {
		return o.finish(ctx, nil, nil, rejected(ErrProofMissing))
	}
	if !o.guard.Acquire() {
		return o.finish(ctx, nil, nil, rejected(ErrBusy))
	}

	o.mu.Lock()
	pending := o.pending
	o.mu.Unlock()
	if pending == nil {
		o.guard.Release(PhaseIdle)
		return o.finish(ctx, nil, nil, rejected(ErrNoPendingQR))
	}

	current, res, ok := o.prepare(ctx, pending.form)
	if !ok {
		return o.finish(ctx, nil, nil, res)
	}
	if current.PaymentMethod != pricing.MethodQR {
		o.CloseQR()
		o.guard.Release(PhaseIdle)
		return o.finish(ctx, nil, nil, rejected(ErrNoPendingQR))
	}
	if !samePricing(pending.payload, current) {
		o.CloseQR()
		o.guard.Release(PhaseIdle)
		return o.finish(ctx, nil, nil, rejected(ErrQRChanged))
	}
	p := *pending.payload
	p.AttemptID = current.AttemptID

	order, res, ok := o.create(ctx, &p)
	if !ok {
		return res
	}

	o.guard.Await(StepUploadProof)
	err := o.svc.QR.UploadProof(ctx, Proof{
		OrderID:        order.ID,
		DisplayOrderID: order.DisplayOrderID,
		Amount:         p.Amounts.Total,
		File:           file,
	})
	if err != nil {
		o.guard.Await(StepCompensate)
		outcome := o.compensate(ctx, order)
		o.CloseQR()
		o.guard.Release(PhaseFailed)
		return o.finish(ctx, &p, order, failure(outcome, err, msgUploadFailed))
	}

	o.clearCart(ctx, order)
	o.CloseQR()
	o.guard.Hold()
	return o.finish(ctx, &p, order, Result{
		Outcome:  OutcomeConfirmed,
		Notice:   Notice{Level: NoticeSuccess, Message: "Payment proof submitted, your order is placed"},
		Navigate: o.confirmationPage(order),
		Order:    order,
	})
}

// CloseQR discards the pending QR dialog. It has no remote side effect.
func (o *Orchestrator) CloseQR() {
	o.mu.Lock()
	o.pending = nil
	o.mu.Unlock()
}

// PendingQR returns the open QR dialog, or nil.
func (o *Orchestrator) PendingQR() *QRPrompt {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending == nil {
		return nil
	}
	return o.pending.prompt()
}

// create persists the order. On failure the guard is released and the cart
// and form are left for a retry.
func (o *Orchestrator) create(ctx context.Context, p *OrderPayload) (*CreatedOrder, Result, bool) {
	o.guard.Await(StepCreateOrder)
	order, err := o.svc.Orders.CreateOrder(ctx, p)
	if err != nil {
		o.guard.Release(PhaseFailed)
		return nil, o.finish(ctx, p, nil, failure(OutcomeCreateFailed, err, msgCreateFailed)), false
	}
	return order, Result{}, true
}

// compensate cancels an order whose proof upload failed. The request outlives
// the caller's context so a disconnected client cannot leave the order behind.
func (o *Orchestrator) compensate(ctx context.Context, order *CreatedOrder) Outcome {
	lg := zctx.From(ctx)
	ctx = context.WithoutCancel(ctx)

	if err := o.svc.Orders.CancelOrder(ctx, order.ID, compensationReason); err != nil {
		lg.Error("Compensating cancel failed",
			zap.String("order_id", order.ID),
			zap.String("display_order_id", order.DisplayOrderID),
			zap.Error(err),
		)
		o.metrics.compensation(ctx, false)
		return OutcomeCompensationFailed
	}
	lg.Warn("Order cancelled after proof upload failure",
		zap.String("order_id", order.ID),
		zap.String("display_order_id", order.DisplayOrderID),
	)
	o.metrics.compensation(ctx, true)
	return OutcomeCompensated
}

// clearCart empties the cart of a persisted order. A failure is logged only:
// the order exists and the customer must not place it twice.
func (o *Orchestrator) clearCart(ctx context.Context, order *CreatedOrder) {
	if err := o.store.Dispatch(ctx, cart.Clear{}); err != nil {
		zctx.From(ctx).Error("Clear cart after order",
			zap.String("cart_id", o.cartID),
			zap.String("order_id", order.ID),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) confirmationPage(order *CreatedOrder) *Navigation {
	return &Navigation{
		Kind:   NavigateInternal,
		Target: o.confirmation + "/" + url.PathEscape(order.ID),
	}
}

// finish records the outcome on the span, the counters and, for outcomes
// that reached the order API, the journal.
func (o *Orchestrator) finish(ctx context.Context, p *OrderPayload, order *CreatedOrder, res Result) Result {
	method := ""
	if p != nil {
		method = string(p.PaymentMethod)
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("checkout.outcome", string(res.Outcome)))
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Notice.Message)
	}
	o.metrics.submission(ctx, method, res.Outcome)

	if p == nil || !res.Outcome.journaled() {
		return res
	}
	a := Attempt{
		ID:        p.AttemptID,
		CartID:    o.cartID,
		Method:    p.PaymentMethod,
		Outcome:   res.Outcome,
		Total:     p.Amounts.Total,
		CreatedAt: o.now(),
	}
	if order != nil {
		a.OrderID = order.ID
		a.DisplayOrderID = order.DisplayOrderID
		if order.Total.IsPositive() {
			a.Total = order.Total
		}
	}
	if res.Err != nil {
		a.Error = res.Err.Error()
	}
	if err := o.journal.Record(context.WithoutCancel(ctx), a); err != nil {
		zctx.From(ctx).Warn("Record checkout attempt",
			zap.String("attempt_id", a.ID),
			zap.String("outcome", string(a.Outcome)),
			zap.Error(err),
		)
	}
	return res
}

func (p *pendingQR) prompt() *QRPrompt {
	return &QRPrompt{
		DisplayName: p.config.DisplayName,
		Image:       p.config.Image,
		Amount:      p.payload.Amounts.Total,
	}
}

// samePricing reports whether b charges the same lines and amounts as a.
func samePricing(a, b *OrderPayload) bool {
	if len(a.Items) != len(b.Items) {
		return false
	}
	for i, l := range a.Items {
		r := b.Items[i]
		if l.ProductID != r.ProductID || l.VariantID != r.VariantID || l.Quantity != r.Quantity ||
			l.IsFreeItem != r.IsFreeItem || !l.UnitPrice.Equal(r.UnitPrice) {
			return false
		}
	}
	x, y := a.Amounts, b.Amounts
	return x.Subtotal.Equal(y.Subtotal) && x.Discount.Equal(y.Discount) &&
		x.Shipping.Equal(y.Shipping) && x.CODFee.Equal(y.CODFee) && x.Total.Equal(y.Total)
}

// validate checks the local preconditions of a submission. It never calls
// the network.
func validate(snap cart.Snapshot, st address.State, form FormValues) error {
	if snap.Empty() {
		return ErrEmptyCart
	}
	if snap.Coupon.Mode == cart.CouponFreeItem && !snap.FreeItemActive() {
		return ErrFreeItemMissing
	}
	if _, err := pricing.ParseMethod(string(st.Method)); err != nil {
		return ErrUnknownMethod
	}
	if !st.Selection.Complete() {
		return ErrAddressIncomplete
	}
	if strings.TrimSpace(form.Name) == "" || strings.TrimSpace(form.Phone) == "" {
		return ErrContactMissing
	}
	if st.Method == pricing.MethodCOD {
		switch {
		case st.Quote.Loading:
			return ErrShippingPending
		case st.Quote.Err != "":
			return ErrShippingUnavailable
		}
	}
	return nil
}

func rejected(err error) Result {
	return Result{
		Outcome: OutcomeRejected,
		Notice:  Notice{Level: NoticeError, Message: err.Error()},
		Err:     err,
	}
}

func failure(outcome Outcome, err error, fallback string) Result {
	return Result{
		Outcome: outcome,
		Notice:  Notice{Level: NoticeError, Message: remote.Message(err, fallback)},
		Err:     err,
	}
}
