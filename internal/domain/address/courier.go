package address

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrPriceUnavailable is returned by a Courier when the price-plan response
// carries no positive price.
var ErrPriceUnavailable = errors.New("delivery price unavailable")

// Option is an entry of a city, zone or area option list.
type Option struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PlanParams are the fixed parcel parameters sent with every price-plan call.
type PlanParams struct {
	ItemType     int
	DeliveryType int
	ItemWeight   decimal.Decimal
}

// PlanRequest is a courier price-plan query.
type PlanRequest struct {
	PlanParams
	CityID string
	ZoneID string
	AreaID string
}

// Plan is a successfully extracted price-plan result.
type Plan struct {
	Price decimal.Decimal
	// Rule names the extraction rule that matched.
	Rule string
	// Raw is the raw response body, kept for order audit.
	Raw []byte
}

// Courier is the courier lookup service.
type Courier interface {
	Cities(ctx context.Context) ([]Option, error)
	Zones(ctx context.Context, cityID string) ([]Option, error)
	Areas(ctx context.Context, zoneID string) ([]Option, error)
	PricePlan(ctx context.Context, req PlanRequest) (*Plan, error)
}
