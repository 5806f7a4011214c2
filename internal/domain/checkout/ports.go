package checkout

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/address"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
)

// CreatedOrder is an order persisted by the order API.
type CreatedOrder struct {
	ID             string
	DisplayOrderID string
	Total          decimal.Decimal
}

// OrderAPI creates and cancels persisted orders.
type OrderAPI interface {
	CreateOrder(ctx context.Context, p *OrderPayload) (*CreatedOrder, error)
	CancelOrder(ctx context.Context, orderID, reason string) error
}

// KhaltiGateway starts a hosted Khalti payment for an order and returns the
// URL to redirect the customer to.
type KhaltiGateway interface {
	InitiateKhalti(ctx context.Context, displayOrderID string) (string, error)
}

// QRConfig is the merchant QR shown in the payment dialog.
type QRConfig struct {
	DisplayName string
	Image       string
}

// Proof is a payment screenshot tied to an order.
type Proof struct {
	OrderID        string
	DisplayOrderID string
	Amount         decimal.Decimal
	File           ProofFile
}

// ProofFile is an uploaded image.
type ProofFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// QRPayments serves the QR payment dialog and accepts proofs.
type QRPayments interface {
	QRConfig(ctx context.Context) (*QRConfig, error)
	UploadProof(ctx context.Context, p Proof) error
}

// AddressState exposes the resolver state the orchestrator prices with.
type AddressState interface {
	State() address.State
}

// Attempt is a journal record of a submission that reached the order API.
type Attempt struct {
	ID             string
	CartID         string
	Method         pricing.Method
	Outcome        Outcome
	OrderID        string
	DisplayOrderID string
	Total          decimal.Decimal
	Error          string
	CreatedAt      time.Time
}

// Journal appends submission attempts. Write failures never change the
// outcome of a submission.
type Journal interface {
	Record(ctx context.Context, a Attempt) error
}

// AttemptLister reads back journaled attempts, newest first. An empty outcome
// lists every outcome.
type AttemptLister interface {
	List(ctx context.Context, outcome Outcome, limit int) ([]Attempt, error)
}

// NopJournal discards attempts.
type NopJournal struct{}

// Record implements Journal.
func (NopJournal) Record(context.Context, Attempt) error { return nil }
