package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/address"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
)

// OpenParams identify the cart and customer of a new session.
type OpenParams struct {
	CartID string
	UserID string
	// Saved is the profile address, with labels, the form starts from.
	Saved  address.Selection
	Method pricing.Method
}

// Session is one checkout page: a cart with its address cascade, coupon
// engine and order orchestrator.
type Session struct {
	ID        string
	CartID    string
	UserID    string
	CreatedAt time.Time

	Cart     cart.Store
	Address  *address.Resolver
	Checkout *Orchestrator

	coupons *coupon.Engine
}

// Overview is a consistent read of everything the checkout page shows.
type Overview struct {
	Cart    cart.Snapshot
	Address address.State
	Summary pricing.Summary
	Guard   GuardState
	QR      *QRPrompt
}

// Overview reads the cart and derives the pricing summary from it.
func (s *Session) Overview(ctx context.Context) (*Overview, error) {
	snap, err := s.Cart.Snapshot(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "read cart")
	}
	st := s.Address.State()
	return &Overview{
		Cart:    snap,
		Address: st,
		Summary: pricing.Calculate(snap, st.Method, st.Quote),
		Guard:   s.Checkout.Guard().State(),
		QR:      s.Checkout.PendingQR(),
	}, nil
}

// ApplyCoupon applies a coupon code to the cart.
func (s *Session) ApplyCoupon(ctx context.Context, code string) (*coupon.Result, error) {
	return s.coupons.Apply(ctx, s.Cart, code)
}

// RemoveCoupon clears the coupon and its free line.
func (s *Session) RemoveCoupon(ctx context.Context) error {
	return s.coupons.Remove(ctx, s.Cart)
}

// Submit places the order with the customer's form values.
func (s *Session) Submit(ctx context.Context, form FormValues) Result {
	form.UserID = s.UserID
	return s.Checkout.Submit(ctx, form)
}

// Factory opens sessions sharing the same remote services.
type Factory struct {
	Carts    cart.Provider
	Courier  address.Courier
	Plan     address.PlanParams
	Coupons  *coupon.Engine
	Services Services
	Options  Options
}

// Open creates a session and restores the saved address. A failed restore
// leaves the option lists to be loaded again by the customer and is not an
// error.
func (f *Factory) Open(ctx context.Context, id string, p OpenParams) *Session {
	method := p.Method
	if method == "" {
		method = pricing.MethodCOD
	}

	store := f.Carts.Cart(p.CartID)
	resolver := address.NewResolver(f.Courier, f.Plan, p.Saved, method)
	if err := resolver.Restore(ctx); err != nil {
		zctx.From(ctx).Warn("Restore saved address",
			zap.String("session_id", id),
			zap.String("city_id", p.Saved.CityID),
			zap.Error(err),
		)
	}

	return &Session{
		ID:        id,
		CartID:    p.CartID,
		UserID:    p.UserID,
		CreatedAt: time.Now(),
		Cart:      store,
		Address:   resolver,
		Checkout:  NewOrchestrator(f.Services, p.CartID, store, resolver, NewGuard(), f.Options),
		coupons:   f.Coupons,
	}
}
