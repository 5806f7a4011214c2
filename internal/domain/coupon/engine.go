// Package coupon applies and removes storefront coupons on the cart.
//
// Eligibility and discount amounts are decided by the server; the engine only
// mirrors the verdict into the cart's coupon slot. A free-item grant whose
// variant is not in the cart gets a synthesized zero-price line, which is
// removed again together with the coupon.
package coupon

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/cart"
)

// Result describes an applied coupon.
type Result struct {
	Coupon cart.Coupon
	// AddedLine is the synthesized free line, if one was added.
	AddedLine *cart.LineItem
}

// Engine applies coupons through a remote Checker.
type Engine struct {
	checker Checker
	images  ImageLookup
}

// NewEngine creates an Engine. images may be nil, in which case synthesized
// free lines carry no image.
func NewEngine(checker Checker, images ImageLookup) *Engine {
	return &Engine{checker: checker, images: images}
}

// Apply checks code against the current cart and stores the verdict. An
// ineligible code clears the coupon slot and returns *IneligibleError. A
// failed eligibility call leaves the cart untouched.
func (e *Engine) Apply(ctx context.Context, store cart.Store, code string) (*Result, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrEmptyCode
	}

	snap, err := store.Snapshot(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "read cart")
	}

	elig, err := e.checker.CheckEligibility(ctx, code, Items(snap))
	if err != nil {
		return nil, errors.Wrap(err, "check coupon eligibility")
	}

	switch {
	case !elig.Eligible:
		if err := e.clear(ctx, store, snap); err != nil {
			return nil, err
		}
		return nil, &IneligibleError{Code: code, Reason: elig.Reason}
	case elig.FreeItem != nil:
		return e.applyFreeItem(ctx, store, snap, code, elig.FreeItem)
	case elig.Money != nil:
		c := cart.Coupon{
			Mode: cart.CouponMoney,
			Money: &cart.MoneyCoupon{
				Code:            code,
				DiscountType:    elig.Money.Type,
				DiscountAmount:  elig.Money.Amount,
				DiscountApplied: elig.Money.Applied,
			},
		}
		actions := append(releaseFreeLine(snap, nil), cart.SetCoupon{Coupon: c})
		if err := store.Dispatch(ctx, cart.Batch(actions)); err != nil {
			return nil, errors.Wrap(err, "store coupon")
		}
		return &Result{Coupon: c}, nil
	default:
		if err := e.clear(ctx, store, snap); err != nil {
			return nil, err
		}
		return nil, ErrNoBenefit
	}
}

func (e *Engine) applyFreeItem(ctx context.Context, store cart.Store, snap cart.Snapshot, code string, grant *FreeItem) (*Result, error) {
	qty := grant.Quantity
	if qty < 1 {
		qty = 1
	}
	c := cart.Coupon{
		Mode: cart.CouponFreeItem,
		FreeItem: &cart.FreeItemCoupon{
			Code:        code,
			ProductID:   grant.ProductID,
			VariantID:   grant.VariantID,
			Quantity:    qty,
			ProductName: grant.ProductName,
			VariantName: grant.VariantName,
		},
	}

	actions := append(releaseFreeLine(snap, c.FreeItem), cart.SetCoupon{Coupon: c})
	res := &Result{Coupon: c}

	if !cart.Apply(snap, cart.Batch(actions)).HasLine(grant.ProductID, grant.VariantID) {
		l := cart.LineItem{
			ProductID:  grant.ProductID,
			VariantID:  grant.VariantID,
			Name:       lineName(grant),
			Quantity:   qty,
			UnitPrice:  decimal.Zero,
			MRP:        decimal.Zero,
			IsFreeItem: true,
			Image:      e.image(ctx, grant),
		}
		actions = append(actions, cart.EnsureLine{Line: l})
		res.AddedLine = &l
	}

	if err := store.Dispatch(ctx, cart.Batch(actions)); err != nil {
		return nil, errors.Wrap(err, "store coupon")
	}
	return res, nil
}

// Remove clears the coupon. A free-item coupon also takes its synthesized
// line with it.
func (e *Engine) Remove(ctx context.Context, store cart.Store) error {
	snap, err := store.Snapshot(ctx)
	if err != nil {
		return errors.Wrap(err, "read cart")
	}
	return e.clear(ctx, store, snap)
}

func (e *Engine) clear(ctx context.Context, store cart.Store, snap cart.Snapshot) error {
	actions := append(releaseFreeLine(snap, nil), cart.ClearCoupon{})
	if err := store.Dispatch(ctx, cart.Batch(actions)); err != nil {
		return errors.Wrap(err, "clear coupon")
	}
	return nil
}

// image looks up the grant image. Lookup failures only cost the image.
func (e *Engine) image(ctx context.Context, grant *FreeItem) string {
	if e.images == nil {
		return ""
	}
	img, err := e.images.VariantImage(ctx, grant.ProductID, grant.VariantID)
	if err != nil {
		zctx.From(ctx).Debug("Free item image lookup failed",
			zap.String("product_id", grant.ProductID),
			zap.String("variant_id", grant.VariantID),
			zap.Error(err),
		)
		return ""
	}
	return img
}

// Items normalizes cart lines for an eligibility check. Free lines are sent
// with a zero price.
func Items(snap cart.Snapshot) []Item {
	items := make([]Item, len(snap.Lines))
	for i, l := range snap.Lines {
		price := l.UnitPrice
		if l.IsFreeItem {
			price = decimal.Zero
		}
		items[i] = Item{
			ProductID: l.ProductID,
			VariantID: l.VariantID,
			Quantity:  l.Quantity,
			Price:     price,
		}
	}
	return items
}

// releaseFreeLine returns the action removing the synthesized line of the
// currently applied free-item coupon, unless keep grants the same variant.
func releaseFreeLine(snap cart.Snapshot, keep *cart.FreeItemCoupon) []cart.Action {
	cur := snap.Coupon.FreeItem
	if snap.Coupon.Mode != cart.CouponFreeItem || cur == nil {
		return nil
	}
	if keep != nil && keep.ProductID == cur.ProductID && keep.VariantID == cur.VariantID {
		return nil
	}
	return []cart.Action{cart.RemoveLine{ProductID: cur.ProductID, VariantID: cur.VariantID, FreeOnly: true}}
}

func lineName(grant *FreeItem) string {
	name := grant.ProductName
	if name == "" {
		name = "Free item"
	}
	if grant.VariantName != "" {
		name += " - " + grant.VariantName
	}
	return name
}
