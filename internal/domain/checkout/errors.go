package checkout

// ValidationError is a failed local precondition. It is detected before any
// remote call.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// Local precondition failures.
var (
	ErrBusy                = &ValidationError{Msg: "an order is already being placed"}
	ErrEmptyCart           = &ValidationError{Msg: "your cart is empty"}
	ErrFreeItemMissing     = &ValidationError{Msg: "the free item of your coupon is no longer in the cart; remove the coupon or add the item back"}
	ErrShippingPending     = &ValidationError{Msg: "delivery charge is still being calculated"}
	ErrShippingUnavailable = &ValidationError{Msg: "delivery charge is unavailable for the selected address"}
	ErrAddressIncomplete   = &ValidationError{Msg: "select city, zone and area"}
	ErrContactMissing      = &ValidationError{Msg: "name and phone number are required"}
	ErrUnknownMethod       = &ValidationError{Msg: "select a payment method"}
	ErrNoPendingQR         = &ValidationError{Msg: "no QR payment is awaiting proof"}
	ErrProofMissing        = &ValidationError{Msg: "attach a payment screenshot"}
	ErrQRChanged           = &ValidationError{Msg: "your cart changed after the QR was shown; review the new total and pay again"}
)

// Customer-facing fallbacks for network failures.
const (
	msgCartUnavailable = "could not read your cart, please try again"
	msgCreateFailed    = "could not place your order, please try again"
	msgInitiateFailed  = "could not start Khalti payment; your order is saved and can be paid later"
	msgQRConfigFailed  = "could not load QR payment details, please try again"
	msgUploadFailed    = "could not upload payment proof, please try again"
)
