package coupon

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/domain/cart"
)

// --- Mock implementations ---

type mockStore struct {
	snap cart.Snapshot
	// stale, when set, is returned by Snapshot instead of snap.
	stale       *cart.Snapshot
	dispatches  int
	dispatchErr error
}

func (m *mockStore) Snapshot(_ context.Context) (cart.Snapshot, error) {
	if m.stale != nil {
		return m.stale.Clone(), nil
	}
	return m.snap.Clone(), nil
}

func (m *mockStore) Dispatch(_ context.Context, a cart.Action) error {
	if m.dispatchErr != nil {
		return m.dispatchErr
	}
	m.dispatches++
	m.snap = cart.Apply(m.snap, a)
	return nil
}

type mockChecker struct {
	elig      *Eligibility
	err       error
	lastCode  string
	lastItems []Item
	calls     int
}

func (m *mockChecker) CheckEligibility(_ context.Context, code string, items []Item) (*Eligibility, error) {
	m.calls++
	m.lastCode = code
	m.lastItems = items
	return m.elig, m.err
}

type mockImages struct {
	image string
	err   error
}

func (m *mockImages) VariantImage(_ context.Context, _, _ string) (string, error) {
	return m.image, m.err
}

// --- Helpers ---

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func paidCart() *mockStore {
	return &mockStore{snap: cart.Snapshot{Lines: []cart.LineItem{
		{ProductID: "p1", VariantID: "v1", Name: "Tee", Quantity: 2, UnitPrice: d("1000"), MRP: d("1200")},
	}}}
}

func freeGrant() *Eligibility {
	return &Eligibility{
		Eligible: true,
		FreeItem: &FreeItem{ProductID: "p9", VariantID: "v9", Quantity: 1, ProductName: "Socks", VariantName: "Black"},
	}
}

// --- Tests ---

func TestApply_MoneyDiscountStoredVerbatim(t *testing.T) {
	store := paidCart()
	checker := &mockChecker{elig: &Eligibility{
		Eligible: true,
		Money:    &MoneyDiscount{Type: "percentage", Amount: d("15"), Applied: d("300")},
	}}
	e := NewEngine(checker, nil)

	res, err := e.Apply(context.Background(), store, "  SAVE15 ")
	require.NoError(t, err)

	assert.Equal(t, "SAVE15", checker.lastCode)
	require.NotNil(t, store.snap.Coupon.Money)
	assert.Equal(t, cart.CouponMoney, store.snap.Coupon.Mode)
	assert.Equal(t, "percentage", store.snap.Coupon.Money.DiscountType)
	assert.True(t, d("15").Equal(store.snap.Coupon.Money.DiscountAmount))
	assert.True(t, d("300").Equal(store.snap.Coupon.Money.DiscountApplied))
	assert.Nil(t, res.AddedLine)
}

func TestApply_FreeItemSynthesizesLine(t *testing.T) {
	store := paidCart()
	e := NewEngine(&mockChecker{elig: freeGrant()}, &mockImages{image: "socks.jpg"})

	res, err := e.Apply(context.Background(), store, "GIFT")
	require.NoError(t, err)

	require.NotNil(t, res.AddedLine)
	require.Len(t, store.snap.Lines, 2)
	free := store.snap.Lines[1]
	assert.True(t, free.IsFreeItem)
	assert.Equal(t, "v9", free.VariantID)
	assert.Equal(t, 1, free.Quantity)
	assert.True(t, free.UnitPrice.IsZero())
	assert.Equal(t, "socks.jpg", free.Image)
	assert.Equal(t, "Socks - Black", free.Name)
	assert.True(t, store.snap.FreeItemActive())
	assert.Equal(t, 1, store.dispatches, "coupon and line are written together")
}

func TestApply_FreeItemImageFailureIsTolerated(t *testing.T) {
	store := paidCart()
	e := NewEngine(&mockChecker{elig: freeGrant()}, &mockImages{err: errors.New("not found")})

	res, err := e.Apply(context.Background(), store, "GIFT")
	require.NoError(t, err)
	require.NotNil(t, res.AddedLine)
	assert.Empty(t, res.AddedLine.Image)
}

func TestApply_FreeItemAlreadyInCart(t *testing.T) {
	store := paidCart()
	grant := freeGrant()
	grant.FreeItem.VariantID = "v1"
	grant.FreeItem.ProductID = "p1"
	e := NewEngine(&mockChecker{elig: grant}, nil)

	res, err := e.Apply(context.Background(), store, "GIFT")
	require.NoError(t, err)
	assert.Nil(t, res.AddedLine)
	assert.Len(t, store.snap.Lines, 1)
	assert.True(t, store.snap.FreeItemActive())
}

func TestApply_FreeItemReapplyIsIdempotent(t *testing.T) {
	store := paidCart()
	checker := &mockChecker{elig: freeGrant()}
	e := NewEngine(checker, nil)
	ctx := context.Background()

	_, err := e.Apply(ctx, store, "GIFT")
	require.NoError(t, err)
	first := store.snap.Clone()

	_, err = e.Apply(ctx, store, "GIFT")
	require.NoError(t, err)

	assert.Equal(t, first, store.snap)
	require.Len(t, checker.lastItems, 2)
	assert.True(t, checker.lastItems[1].Price.IsZero(), "free line is sent with zero price")
}

func TestApply_FreeItemRacingApplyAddsOneLine(t *testing.T) {
	store := paidCart()
	engine := NewEngine(&mockChecker{elig: freeGrant()}, nil)
	before := store.snap.Clone()

	_, err := engine.Apply(context.Background(), store, "FREESOCKS")
	require.NoError(t, err)

	// The second apply read the cart before the first one was written.
	store.stale = &before
	_, err = engine.Apply(context.Background(), store, "FREESOCKS")
	require.NoError(t, err)

	require.Len(t, store.snap.Lines, 2)
	free := store.snap.Lines[1]
	assert.True(t, free.IsFreeItem)
	assert.Equal(t, 1, free.Quantity)
}

func TestRemove_FreeItemTakesSynthesizedLine(t *testing.T) {
	store := paidCart()
	e := NewEngine(&mockChecker{elig: freeGrant()}, nil)
	ctx := context.Background()

	_, err := e.Apply(ctx, store, "GIFT")
	require.NoError(t, err)
	require.Len(t, store.snap.Lines, 2)

	require.NoError(t, e.Remove(ctx, store))
	assert.Len(t, store.snap.Lines, 1)
	assert.False(t, store.snap.Lines[0].IsFreeItem)
	assert.Equal(t, cart.CouponNone, store.snap.Coupon.Mode)
}

func TestRemove_KeepsPaidLineOfGrantedVariant(t *testing.T) {
	store := paidCart()
	store.snap.Coupon = cart.Coupon{
		Mode:     cart.CouponFreeItem,
		FreeItem: &cart.FreeItemCoupon{Code: "GIFT", ProductID: "p1", VariantID: "v1", Quantity: 1},
	}
	e := NewEngine(&mockChecker{}, nil)

	require.NoError(t, e.Remove(context.Background(), store))
	assert.Len(t, store.snap.Lines, 1)
}

func TestApply_DeletingFreeLineKeepsBadge(t *testing.T) {
	store := paidCart()
	e := NewEngine(&mockChecker{elig: freeGrant()}, nil)

	_, err := e.Apply(context.Background(), store, "GIFT")
	require.NoError(t, err)

	require.NoError(t, store.Dispatch(context.Background(), cart.RemoveLine{ProductID: "p9", VariantID: "v9"}))

	assert.False(t, store.snap.FreeItemActive())
	assert.Equal(t, "GIFT", store.snap.Coupon.Code())
}

func TestApply_Ineligible(t *testing.T) {
	store := paidCart()
	store.snap.Coupon = cart.Coupon{Mode: cart.CouponMoney, Money: &cart.MoneyCoupon{Code: "OLD"}}
	e := NewEngine(&mockChecker{elig: &Eligibility{Eligible: false, Reason: "Minimum order is 5000"}}, nil)

	_, err := e.Apply(context.Background(), store, "BIG")

	var inErr *IneligibleError
	require.ErrorAs(t, err, &inErr)
	assert.Equal(t, "Minimum order is 5000", inErr.Error())
	assert.Equal(t, cart.CouponNone, store.snap.Coupon.Mode)
}

func TestApply_ReplacingFreeItemReleasesOldLine(t *testing.T) {
	store := paidCart()
	checker := &mockChecker{elig: freeGrant()}
	e := NewEngine(checker, nil)
	ctx := context.Background()

	_, err := e.Apply(ctx, store, "GIFT")
	require.NoError(t, err)

	checker.elig = &Eligibility{Eligible: true, Money: &MoneyDiscount{Type: "fixed", Amount: d("100"), Applied: d("100")}}
	_, err = e.Apply(ctx, store, "FLAT100")
	require.NoError(t, err)

	assert.Len(t, store.snap.Lines, 1)
	assert.Equal(t, "FLAT100", store.snap.Coupon.Code())
}

func TestApply_Errors(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		checker *mockChecker
		wantErr error
		calls   int
	}{
		{name: "empty code", code: "   ", checker: &mockChecker{}, wantErr: ErrEmptyCode},
		{
			name:    "eligible without benefit",
			code:    "ODD",
			checker: &mockChecker{elig: &Eligibility{Eligible: true}},
			wantErr: ErrNoBenefit,
			calls:   1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(tt.checker, nil).Apply(context.Background(), paidCart(), tt.code)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.calls, tt.checker.calls)
		})
	}
}

func TestApply_CheckFailureLeavesCart(t *testing.T) {
	store := paidCart()
	store.snap.Coupon = cart.Coupon{Mode: cart.CouponMoney, Money: &cart.MoneyCoupon{Code: "KEEP"}}
	e := NewEngine(&mockChecker{err: errors.New("connection refused")}, nil)

	_, err := e.Apply(context.Background(), store, "NEW")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "check coupon eligibility")
	assert.Equal(t, "KEEP", store.snap.Coupon.Code())
	assert.Zero(t, store.dispatches)
}
