// Package address drives the city, zone and area cascade of the checkout form
// and keeps the courier shipping quote for the selected address.
//
// Overlapping price-plan requests are ordered with a monotonic ticket: every
// request captures the ticket it was issued with, and a response is applied
// only if no later request (or reset) has advanced the ticket since. Superseded
// requests are not cancelled; they run to completion and are dropped.
package address

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/remote"
)

const (
	msgPriceUnavailable = "delivery price unavailable"
	msgPriceFailed      = "failed to fetch delivery price"
)

var (
	// ErrParentUnset is returned when a zone or area is selected before its parent.
	ErrParentUnset = errors.New("parent location is not selected")
	// ErrUnknownOption is returned when the selected id is not in a loaded option list.
	ErrUnknownOption = errors.New("unknown location option")
	// ErrUnknownLevel is returned by ParseLevel.
	ErrUnknownLevel = errors.New("unknown location level")
)

// Level is a level of the address cascade.
type Level string

// Address cascade levels.
const (
	LevelCity Level = "city"
	LevelZone Level = "zone"
	LevelArea Level = "area"
)

// ParseLevel validates a level string.
func ParseLevel(s string) (Level, error) {
	switch l := Level(s); l {
	case LevelCity, LevelZone, LevelArea:
		return l, nil
	}
	return "", errors.Wrapf(ErrUnknownLevel, "%q", s)
}

// Selection is the customer's delivery address. Names are display labels.
type Selection struct {
	CityID   string
	ZoneID   string
	AreaID   string
	Landmark string

	CityName string
	ZoneName string
	AreaName string
}

// Complete reports whether city, zone and area are all selected.
func (s Selection) Complete() bool {
	return s.CityID != "" && s.ZoneID != "" && s.AreaID != ""
}

// Audit describes the price-plan call behind the current quote.
type Audit struct {
	Key     string
	Request PlanRequest
	Rule    string
	Raw     []byte
}

// State is a consistent view of the resolver.
type State struct {
	Selection Selection
	Method    pricing.Method
	Quote     pricing.Quote
	// Audit is nil unless the quote holds an accepted price.
	Audit *Audit
}

// Resolver owns the address selection, option lists and shipping quote of a
// single checkout.
type Resolver struct {
	courier Courier
	params  PlanParams
	saved   Selection

	mu     sync.Mutex
	sel    Selection
	method pricing.Method
	cities []Option
	zones  []Option
	areas  []Option
	quote  pricing.Quote
	key    string
	ticket uint64
	audit  *Audit
}

// NewResolver creates a Resolver starting from the saved profile address. The
// saved labels are shown until the option lists containing them are loaded.
func NewResolver(courier Courier, params PlanParams, saved Selection, method pricing.Method) *Resolver {
	return &Resolver{
		courier: courier,
		params:  params,
		saved:   saved,
		sel: Selection{
			CityID:   saved.CityID,
			ZoneID:   saved.ZoneID,
			AreaID:   saved.AreaID,
			Landmark: saved.Landmark,
		},
		method: method,
	}
}

// Restore loads the option lists needed by the current selection in parallel
// and then recalculates the quote.
func (r *Resolver) Restore(ctx context.Context) error {
	r.mu.Lock()
	sel := r.sel
	r.mu.Unlock()

	var g errgroup.Group
	g.Go(func() error { return r.LoadCities(ctx) })
	if sel.CityID != "" {
		g.Go(func() error { return r.loadZones(ctx, sel.CityID) })
	}
	if sel.ZoneID != "" {
		g.Go(func() error { return r.loadAreas(ctx, sel.ZoneID) })
	}
	err := g.Wait()

	r.maybeRecalculate(ctx)
	return err
}

// LoadCities fetches the city option list.
func (r *Resolver) LoadCities(ctx context.Context) error {
	cities, err := r.courier.Cities(ctx)
	if err != nil {
		return errors.Wrap(err, "fetch cities")
	}
	r.mu.Lock()
	r.cities = cities
	r.mu.Unlock()
	return nil
}

func (r *Resolver) loadZones(ctx context.Context, cityID string) error {
	zones, err := r.courier.Zones(ctx, cityID)
	if err != nil {
		return errors.Wrap(err, "fetch zones")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sel.CityID == cityID {
		r.zones = zones
	}
	return nil
}

func (r *Resolver) loadAreas(ctx context.Context, zoneID string) error {
	areas, err := r.courier.Areas(ctx, zoneID)
	if err != nil {
		return errors.Wrap(err, "fetch areas")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sel.ZoneID == zoneID {
		r.areas = areas
	}
	return nil
}

// SelectCity changes the city. Zone, area, their option lists and the quote
// are reset unconditionally, then the zone list of the new city is fetched.
func (r *Resolver) SelectCity(ctx context.Context, cityID string) error {
	r.mu.Lock()
	if err := checkOption(r.cities, cityID); err != nil {
		r.mu.Unlock()
		return err
	}
	r.sel.CityID = cityID
	r.sel.ZoneID, r.sel.AreaID = "", ""
	r.zones, r.areas = nil, nil
	r.resetQuoteLocked()
	r.mu.Unlock()

	if cityID == "" {
		return nil
	}
	return r.loadZones(ctx, cityID)
}

// SelectZone changes the zone. Area, its options and the quote are reset,
// then the area list is fetched.
func (r *Resolver) SelectZone(ctx context.Context, zoneID string) error {
	r.mu.Lock()
	if r.sel.CityID == "" {
		r.mu.Unlock()
		return ErrParentUnset
	}
	if err := checkOption(r.zones, zoneID); err != nil {
		r.mu.Unlock()
		return err
	}
	r.sel.ZoneID = zoneID
	r.sel.AreaID = ""
	r.areas = nil
	r.resetQuoteLocked()
	r.mu.Unlock()

	if zoneID == "" {
		return nil
	}
	return r.loadAreas(ctx, zoneID)
}

// SelectArea changes the area and recalculates the quote.
func (r *Resolver) SelectArea(ctx context.Context, areaID string) error {
	r.mu.Lock()
	if r.sel.ZoneID == "" {
		r.mu.Unlock()
		return ErrParentUnset
	}
	if err := checkOption(r.areas, areaID); err != nil {
		r.mu.Unlock()
		return err
	}
	r.sel.AreaID = areaID
	r.mu.Unlock()

	r.maybeRecalculate(ctx)
	return nil
}

// SetMethod changes the payment method and recalculates the quote.
func (r *Resolver) SetMethod(ctx context.Context, m pricing.Method) {
	r.mu.Lock()
	r.method = m
	r.mu.Unlock()

	r.maybeRecalculate(ctx)
}

// SetLandmark sets the free-text landmark.
func (r *Resolver) SetLandmark(landmark string) {
	r.mu.Lock()
	r.sel.Landmark = landmark
	r.mu.Unlock()
}

// RetryShipping forgets the last request key and fetches the quote again.
func (r *Resolver) RetryShipping(ctx context.Context) {
	r.mu.Lock()
	r.key = ""
	r.mu.Unlock()

	r.maybeRecalculate(ctx)
}

// Options returns a copy of the option list of the given level.
func (r *Resolver) Options(level Level) []Option {
	r.mu.Lock()
	defer r.mu.Unlock()

	var src []Option
	switch level {
	case LevelCity:
		src = r.cities
	case LevelZone:
		src = r.zones
	case LevelArea:
		src = r.areas
	}
	return append([]Option(nil), src...)
}

// Quote returns the current shipping quote.
func (r *Resolver) Quote() pricing.Quote {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.quote
}

// State returns the selection with resolved labels, the method, the quote and
// its audit record in one consistent read.
func (r *Resolver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	sel := r.sel
	sel.CityName = r.label(r.cities, sel.CityID, r.saved.CityID, r.saved.CityName)
	sel.ZoneName = r.label(r.zones, sel.ZoneID, r.saved.ZoneID, r.saved.ZoneName)
	sel.AreaName = r.label(r.areas, sel.AreaID, r.saved.AreaID, r.saved.AreaName)

	st := State{Selection: sel, Method: r.method, Quote: r.quote}
	if r.audit != nil {
		a := *r.audit
		st.Audit = &a
	}
	return st
}

// label resolves a display label from the loaded options, falling back to the
// saved profile label while the list is not loaded.
func (r *Resolver) label(opts []Option, id, savedID, savedName string) string {
	if id == "" {
		return ""
	}
	for _, o := range opts {
		if o.ID == id {
			return o.Name
		}
	}
	if id == savedID {
		return savedName
	}
	return ""
}

// maybeRecalculate resets the quote when shipping does not apply, skips when
// the request key is unchanged, and otherwise issues a ticketed price fetch.
func (r *Resolver) maybeRecalculate(ctx context.Context) {
	r.mu.Lock()
	sel, method := r.sel, r.method
	if method != pricing.MethodCOD || !sel.Complete() {
		r.resetQuoteLocked()
		r.mu.Unlock()
		return
	}

	key := requestKey(sel, method)
	if key == r.key {
		r.mu.Unlock()
		return
	}
	r.key = key
	r.ticket++
	ticket := r.ticket
	r.quote = pricing.Quote{Loading: true}
	r.audit = nil
	r.mu.Unlock()

	req := PlanRequest{
		PlanParams: r.params,
		CityID:     sel.CityID,
		ZoneID:     sel.ZoneID,
		AreaID:     sel.AreaID,
	}
	r.fetch(context.WithoutCancel(ctx), ticket, key, req)
}

func (r *Resolver) fetch(ctx context.Context, ticket uint64, key string, req PlanRequest) {
	plan, err := r.courier.PricePlan(ctx, req)

	r.mu.Lock()
	defer r.mu.Unlock()

	if ticket != r.ticket {
		zctx.From(ctx).Debug("Discarding stale price plan",
			zap.Uint64("ticket", ticket),
			zap.Uint64("current", r.ticket),
			zap.String("key", key),
		)
		return
	}

	switch {
	case errors.Is(err, ErrPriceUnavailable):
		r.quote = pricing.Quote{Err: msgPriceUnavailable}
	case err != nil:
		r.quote = pricing.Quote{Err: remote.Message(err, msgPriceFailed)}
	case !plan.Price.IsPositive():
		r.quote = pricing.Quote{Err: msgPriceUnavailable}
	default:
		r.quote = pricing.Quote{Price: plan.Price}
		r.audit = &Audit{Key: key, Request: req, Rule: plan.Rule, Raw: plan.Raw}
	}
}

// resetQuoteLocked clears the quote, forgets the request key and advances the
// ticket so that any in-flight response is discarded.
func (r *Resolver) resetQuoteLocked() {
	r.quote = pricing.Quote{}
	r.key = ""
	r.ticket++
	r.audit = nil
}

func requestKey(sel Selection, method pricing.Method) string {
	return fmt.Sprintf("%s|%s|%s|%s", sel.CityID, sel.ZoneID, sel.AreaID, method)
}

// checkOption rejects ids missing from a loaded list. Unloaded lists accept
// any id so a saved address can be restored before the lists arrive.
func checkOption(opts []Option, id string) error {
	if id == "" || len(opts) == 0 {
		return nil
	}
	for _, o := range opts {
		if o.ID == id {
			return nil
		}
	}
	return errors.Wrapf(ErrUnknownOption, "%q", id)
}
