package cart

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func line(product, variant string, qty int, price string) LineItem {
	return LineItem{
		ProductID: product,
		VariantID: variant,
		Name:      product,
		Quantity:  qty,
		UnitPrice: decimal.RequireFromString(price),
		MRP:       decimal.RequireFromString(price),
	}
}

func TestSnapshot_Subtotal(t *testing.T) {
	free := line("p3", "v3", 2, "500")
	free.IsFreeItem = true

	s := Snapshot{Lines: []LineItem{
		line("p1", "v1", 2, "750"),
		line("p2", "", 1, "500"),
		free,
	}}

	assert.True(t, decimal.NewFromInt(2000).Equal(s.Subtotal()))
	assert.False(t, s.Empty())
	assert.True(t, Snapshot{}.Empty())
}

func TestSnapshot_FreeItemActive(t *testing.T) {
	grant := Coupon{
		Mode:     CouponFreeItem,
		FreeItem: &FreeItemCoupon{Code: "GIFT", ProductID: "p9", VariantID: "v9", Quantity: 1},
	}

	tests := []struct {
		name string
		snap Snapshot
		want bool
	}{
		{name: "no coupon", snap: Snapshot{Lines: []LineItem{line("p9", "v9", 1, "0")}}},
		{
			name: "money coupon",
			snap: Snapshot{
				Lines:  []LineItem{line("p9", "v9", 1, "0")},
				Coupon: Coupon{Mode: CouponMoney, Money: &MoneyCoupon{Code: "SAVE"}},
			},
		},
		{name: "granted variant absent", snap: Snapshot{Lines: []LineItem{line("p1", "v1", 1, "10")}, Coupon: grant}},
		{name: "granted variant present", snap: Snapshot{Lines: []LineItem{line("p9", "v9", 1, "0")}, Coupon: grant}, want: true},
		{name: "same product other variant", snap: Snapshot{Lines: []LineItem{line("p9", "v8", 1, "0")}, Coupon: grant}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.snap.FreeItemActive())
		})
	}
}

func TestApply_AddLineMergesSameKind(t *testing.T) {
	s := Snapshot{Lines: []LineItem{line("p1", "v1", 1, "100")}}

	s = Apply(s, AddLine{Line: line("p1", "v1", 2, "100")})
	require.Len(t, s.Lines, 1)
	assert.Equal(t, 3, s.Lines[0].Quantity)

	free := line("p1", "v1", 1, "0")
	free.IsFreeItem = true
	s = Apply(s, AddLine{Line: free})
	require.Len(t, s.Lines, 2, "free line is kept apart from the paid line")
}

func TestApply_EnsureLineAddsOnce(t *testing.T) {
	free := line("p9", "v9", 1, "0")
	free.IsFreeItem = true

	s := Apply(Snapshot{}, Batch{EnsureLine{Line: free}, EnsureLine{Line: free}})
	require.Len(t, s.Lines, 1)
	assert.Equal(t, 1, s.Lines[0].Quantity)

	paid := Snapshot{Lines: []LineItem{line("p9", "v9", 2, "100")}}
	out := Apply(paid, EnsureLine{Line: free})
	require.Len(t, out.Lines, 1, "a paid line of the variant satisfies it")
	assert.False(t, out.Lines[0].IsFreeItem)
}

func TestApply_RemoveLineFreeOnly(t *testing.T) {
	free := line("p1", "v1", 1, "0")
	free.IsFreeItem = true
	s := Snapshot{Lines: []LineItem{line("p1", "v1", 1, "100"), free, line("p2", "", 1, "5")}}

	out := Apply(s, RemoveLine{ProductID: "p1", VariantID: "v1", FreeOnly: true})
	require.Len(t, out.Lines, 2)
	assert.False(t, out.Lines[0].IsFreeItem)
	assert.Equal(t, "p2", out.Lines[1].ProductID)

	out = Apply(s, RemoveLine{ProductID: "p1", VariantID: "v1"})
	require.Len(t, out.Lines, 1)
	assert.Len(t, s.Lines, 3, "source snapshot is untouched")
}

func TestApply_BatchAndClear(t *testing.T) {
	s := Snapshot{Lines: []LineItem{line("p1", "", 1, "100")}}

	s = Apply(s, Batch{
		SetCoupon{Coupon: Coupon{Mode: CouponMoney, Money: &MoneyCoupon{Code: "SAVE"}}},
		AddLine{Line: line("p2", "", 1, "20")},
	})
	assert.Equal(t, "SAVE", s.Coupon.Code())
	assert.Len(t, s.Lines, 2)

	s = Apply(s, ClearCoupon{})
	assert.Equal(t, "", s.Coupon.Code())

	s = Apply(s, Clear{})
	assert.True(t, s.Empty())
}

func TestSnapshot_CloneIsDeep(t *testing.T) {
	s := Snapshot{
		Lines:  []LineItem{line("p1", "", 1, "100")},
		Coupon: Coupon{Mode: CouponMoney, Money: &MoneyCoupon{Code: "SAVE"}},
	}
	c := s.Clone()
	c.Lines[0].Quantity = 7
	c.Coupon.Money.Code = "OTHER"

	assert.Equal(t, 1, s.Lines[0].Quantity)
	assert.Equal(t, "SAVE", s.Coupon.Money.Code)
}
