package cart

// Action is a cart mutation. Stores apply actions with Apply.
type Action interface {
	apply(s *Snapshot)
}

// Apply returns a copy of s with a applied.
func Apply(s Snapshot, a Action) Snapshot {
	out := s.Clone()
	a.apply(&out)
	return out
}

// AddLine appends a line, or increases the quantity of an existing line for
// the same variant and free flag.
type AddLine struct {
	Line LineItem
}

func (a AddLine) apply(s *Snapshot) {
	for i := range s.Lines {
		l := &s.Lines[i]
		if l.IsFreeItem == a.Line.IsFreeItem && l.matches(a.Line.ProductID, a.Line.VariantID) {
			l.Quantity += a.Line.Quantity
			return
		}
	}
	s.Lines = append(s.Lines, a.Line)
}

// EnsureLine appends Line unless any line, paid or free, is already for its
// product variant. Repeating it never grows the cart.
type EnsureLine struct {
	Line LineItem
}

func (a EnsureLine) apply(s *Snapshot) {
	if s.HasLine(a.Line.ProductID, a.Line.VariantID) {
		return
	}
	s.Lines = append(s.Lines, a.Line)
}

// RemoveLine removes lines of a product variant. With FreeOnly set, only
// zero-price free lines are removed and paid lines are kept.
type RemoveLine struct {
	ProductID string
	VariantID string
	FreeOnly  bool
}

func (a RemoveLine) apply(s *Snapshot) {
	kept := s.Lines[:0]
	for _, l := range s.Lines {
		if l.matches(a.ProductID, a.VariantID) && (!a.FreeOnly || l.IsFreeItem) {
			continue
		}
		kept = append(kept, l)
	}
	s.Lines = kept
}

// SetCoupon replaces the coupon slot.
type SetCoupon struct {
	Coupon Coupon
}

func (a SetCoupon) apply(s *Snapshot) {
	s.Coupon = a.Coupon
}

// ClearCoupon empties the coupon slot.
type ClearCoupon struct{}

func (ClearCoupon) apply(s *Snapshot) {
	s.Coupon = Coupon{}
}

// Clear empties the cart, coupon included.
type Clear struct{}

func (Clear) apply(s *Snapshot) {
	s.Lines = nil
	s.Coupon = Coupon{}
}

// Batch applies several actions as one write.
type Batch []Action

func (b Batch) apply(s *Snapshot) {
	for _, a := range b {
		a.apply(s)
	}
}
