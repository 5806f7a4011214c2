package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/domain/address"
	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/remote"
	"github.com/xenking/kart-checkout/internal/storage/memory"
)

type courier struct{}

func (courier) Cities(context.Context) ([]address.Option, error) {
	return []address.Option{{ID: "c1", Name: "Kathmandu"}, {ID: "c2", Name: "Pokhara"}}, nil
}

func (courier) Zones(_ context.Context, cityID string) ([]address.Option, error) {
	return []address.Option{{ID: "z1", Name: "Baneshwor " + cityID}}, nil
}

func (courier) Areas(context.Context, string) ([]address.Option, error) {
	return []address.Option{{ID: "a1", Name: "Shantinagar"}}, nil
}

func (courier) PricePlan(context.Context, address.PlanRequest) (*address.Plan, error) {
	return &address.Plan{Price: decimal.NewFromInt(150), Rule: "data.price", Raw: []byte(`{"data":{"price":150}}`)}, nil
}

type orders struct {
	mu        sync.Mutex
	err       error
	cancelled []string
}

func (o *orders) CreateOrder(_ context.Context, p *checkout.OrderPayload) (*checkout.CreatedOrder, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	return &checkout.CreatedOrder{ID: "o1", DisplayOrderID: "ORD-1001", Total: p.Amounts.Total}, nil
}

func (o *orders) CancelOrder(_ context.Context, id, _ string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelled = append(o.cancelled, id)
	return nil
}

type khalti struct{}

func (khalti) InitiateKhalti(context.Context, string) (string, error) {
	return "https://pay.khalti.com/?pidx=1", nil
}

type qr struct {
	mu        sync.Mutex
	uploadErr error
	proofs    []checkout.Proof
}

func (q *qr) QRConfig(context.Context) (*checkout.QRConfig, error) {
	return &checkout.QRConfig{DisplayName: "Kart Store", Image: "https://cdn.example.com/qr.png"}, nil
}

func (q *qr) UploadProof(_ context.Context, p checkout.Proof) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.proofs = append(q.proofs, p)
	return q.uploadErr
}

type checker struct{}

func (checker) CheckEligibility(_ context.Context, code string, _ []coupon.Item) (*coupon.Eligibility, error) {
	if code == "NOPE" {
		return &coupon.Eligibility{Reason: "coupon expired"}, nil
	}
	return &coupon.Eligibility{
		Eligible: true,
		Money:    &coupon.MoneyDiscount{Type: "fixed", Amount: decimal.NewFromInt(100), Applied: decimal.NewFromInt(100)},
	}, nil
}

type fixture struct {
	t       *testing.T
	srv     *httptest.Server
	admin   *httptest.Server
	carts   *memory.Carts
	journal *memory.Journal
	orders  *orders
	qr      *qr
	reg     *Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:       t,
		carts:   memory.NewCarts(),
		journal: memory.NewJournal(),
		orders:  &orders{},
		qr:      &qr{},
	}
	factory := &checkout.Factory{
		Carts:   f.carts,
		Courier: courier{},
		Plan:    address.PlanParams{ItemType: 2, DeliveryType: 48, ItemWeight: decimal.RequireFromString("0.5")},
		Coupons: coupon.NewEngine(checker{}, nil),
		Services: checkout.Services{
			Orders: f.orders,
			Khalti: khalti{},
			QR:     f.qr,
		},
		Options: checkout.Options{Journal: f.journal},
	}
	f.reg = NewRegistry(factory, time.Hour)
	h := New(f.reg, f.journal, Options{MaxProofSize: 1024})
	f.srv = httptest.NewServer(h.Router())
	t.Cleanup(f.srv.Close)
	f.admin = httptest.NewServer(h.AdminRouter())
	t.Cleanup(f.admin.Close)

	require.NoError(t, f.carts.Cart("cart-1").Dispatch(context.Background(), cart.AddLine{Line: cart.LineItem{
		ProductID: "p1", Name: "Kurta", Quantity: 2, UnitPrice: decimal.NewFromInt(500), MRP: decimal.NewFromInt(600),
	}}))
	return f
}

func (f *fixture) do(method, path, body string) (int, map[string]any) {
	f.t.Helper()
	return f.doAt(f.srv, method, path, body)
}

func (f *fixture) doAt(srv *httptest.Server, method, path, body string) (int, map[string]any) {
	f.t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(f.t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return f.send(req)
}

func (f *fixture) send(req *http.Request) (int, map[string]any) {
	f.t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(f.t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		require.Equal(f.t, "application/json", resp.Header.Get("Content-Type"))
		require.NoError(f.t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func (f *fixture) open(method string) string {
	f.t.Helper()
	code, body := f.do(http.MethodPost, "/api/checkout/sessions", `{
		"cart_id": "cart-1",
		"user_id": "u1",
		"method": "`+method+`",
		"address": {"city_id": "c1", "zone_id": "z1", "area_id": "a1", "landmark": "Near temple",
			"city_name": "Saved City", "zone_name": "Saved Zone", "area_name": "Saved Area"}
	}`)
	require.Equal(f.t, http.StatusCreated, code, body)
	return body["id"].(string)
}

func (f *fixture) proof(id string, data []byte) (int, map[string]any) {
	f.t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if data != nil {
		part, err := w.CreateFormFile("file", "proof.png")
		require.NoError(f.t, err)
		_, err = part.Write(data)
		require.NoError(f.t, err)
	}
	require.NoError(f.t, w.WriteField("note", "paid"))
	require.NoError(f.t, w.Close())

	req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/api/checkout/sessions/"+id+"/qr/proof", &buf)
	require.NoError(f.t, err)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return f.send(req)
}

func obj(t *testing.T, v any, key string) map[string]any {
	t.Helper()
	m, ok := v.(map[string]any)[key].(map[string]any)
	require.True(t, ok, "%s is not an object", key)
	return m
}

const contact = `{"name": "Sita", "phone": "9800000000", "email": "sita@example.com"}`

func TestOpenSession(t *testing.T) {
	f := newFixture(t)
	id := f.open("cod")

	code, body := f.do(http.MethodGet, "/api/checkout/sessions/"+id, "")
	require.Equal(t, http.StatusOK, code)

	addr := obj(t, body, "address")
	assert.Equal(t, "Kathmandu", addr["city_name"], "loaded labels replace saved ones")
	assert.Equal(t, "Near temple", addr["landmark"])
	assert.Equal(t, true, addr["complete"])

	summary := obj(t, body, "summary")
	assert.Equal(t, 1000.0, summary["subtotal"])
	assert.Equal(t, 150.0, summary["shipping"])
	assert.Equal(t, 50.0, summary["cod_fee"])
	assert.Equal(t, 1200.0, summary["total"])

	assert.Nil(t, body["coupon"])
	assert.Equal(t, "idle", obj(t, body, "guard")["phase"])
	assert.Len(t, body["lines"], 1)
}

func TestOpenSession_BadRequest(t *testing.T) {
	f := newFixture(t)
	for name, body := range map[string]string{
		"MissingCart": `{"user_id": "u1"}`,
		"Malformed":   `{"cart_id":`,
		"Method":      `{"cart_id": "cart-1", "method": "card"}`,
	} {
		t.Run(name, func(t *testing.T) {
			code, out := f.do(http.MethodPost, "/api/checkout/sessions", body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, 400.0, out["code"])
			assert.NotEmpty(t, out["message"])
		})
	}
}

func TestUnknownSession(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(http.MethodGet, "/api/checkout/sessions/missing", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "checkout session not found", body["message"])

	code, _ = f.do(http.MethodDelete, "/api/checkout/sessions/missing", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCloseSession(t *testing.T) {
	f := newFixture(t)
	id := f.open("cod")

	code, _ := f.do(http.MethodDelete, "/api/checkout/sessions/"+id, "")
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = f.do(http.MethodGet, "/api/checkout/sessions/"+id, "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAddressCascade(t *testing.T) {
	f := newFixture(t)
	id := f.open("cod")
	base := "/api/checkout/sessions/" + id

	code, body := f.do(http.MethodGet, base+"/options/city", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["options"], 2)

	code, body = f.do(http.MethodPut, base+"/address/city", `{"id": "c2"}`)
	require.Equal(t, http.StatusOK, code)
	addr := obj(t, body, "address")
	assert.Equal(t, "Pokhara", addr["city_name"])
	assert.Equal(t, "", addr["zone_id"], "city change resets zone")
	assert.Equal(t, 0.0, obj(t, body, "summary")["shipping"])

	code, body = f.do(http.MethodGet, base+"/options/zone", "")
	require.Equal(t, http.StatusOK, code)
	zones := body["options"].([]any)
	require.Len(t, zones, 1)
	assert.Equal(t, "Baneshwor c2", zones[0].(map[string]any)["name"])

	code, _ = f.do(http.MethodPut, base+"/address/zone", `{"id": "z1"}`)
	require.Equal(t, http.StatusOK, code)
	code, body = f.do(http.MethodPut, base+"/address/area", `{"id": "a1"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 150.0, obj(t, body, "shipping")["price"])

	code, body = f.do(http.MethodPut, base+"/address/city", `{"id": "nowhere"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, body["message"], "unknown location option")

	code, _ = f.do(http.MethodGet, base+"/options/country", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = f.do(http.MethodPut, base+"/landmark", `{"landmark": "Blue gate"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Blue gate", obj(t, body, "address")["landmark"])
}

func TestPaymentMethod(t *testing.T) {
	f := newFixture(t)
	id := f.open("cod")
	base := "/api/checkout/sessions/" + id

	code, body := f.do(http.MethodPut, base+"/payment-method", `{"method": "khalti"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "khalti", body["method"])
	assert.Equal(t, 1000.0, obj(t, body, "summary")["total"])
	assert.Equal(t, false, obj(t, body, "shipping")["applies"])

	code, body = f.do(http.MethodPut, base+"/payment-method", `{"method": "cod"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1200.0, obj(t, body, "summary")["total"], "switching back refetches the quote")

	code, _ = f.do(http.MethodPost, base+"/shipping/retry", "")
	assert.Equal(t, http.StatusOK, code)

	code, _ = f.do(http.MethodPut, base+"/payment-method", `{"method": "card"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
}

func TestCoupon(t *testing.T) {
	f := newFixture(t)
	id := f.open("cod")
	base := "/api/checkout/sessions/" + id

	code, body := f.do(http.MethodPost, base+"/coupon", `{"code": "SAVE100"}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "SAVE100", body["code"])
	assert.Equal(t, "money", body["mode"])

	_, body = f.do(http.MethodGet, base, "")
	badge := obj(t, body, "coupon")
	assert.Equal(t, 100.0, badge["discount_applied"])
	assert.Equal(t, 1100.0, obj(t, body, "summary")["total"])

	code, body = f.do(http.MethodPost, base+"/coupon", `{"code": "NOPE"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "coupon expired", body["message"])

	code, _ = f.do(http.MethodPost, base+"/coupon", `{"code": ""}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, body = f.do(http.MethodDelete, base+"/coupon", "")
	require.Equal(t, http.StatusOK, code)
	assert.Nil(t, body["coupon"])
}

func TestSubmit_COD(t *testing.T) {
	f := newFixture(t)
	id := f.open("cod")

	code, body := f.do(http.MethodPost, "/api/checkout/sessions/"+id+"/submit", contact)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "confirmed", body["outcome"])
	assert.Equal(t, "success", obj(t, body, "notice")["level"])
	nav := obj(t, body, "navigate")
	assert.Equal(t, "internal", nav["kind"])
	assert.Equal(t, "/order-confirmation/o1", nav["target"])
	assert.Equal(t, 1200.0, obj(t, body, "order")["total"])

	snap, err := f.carts.Cart("cart-1").Snapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.Empty())

	code, body = f.do(http.MethodPost, "/api/checkout/sessions/"+id+"/submit", contact)
	assert.Equal(t, http.StatusConflict, code, "held after success")
	assert.Equal(t, "rejected", body["outcome"])

	code, body = f.doAt(f.admin, http.MethodGet, "/admin/checkout/attempts?outcome=confirmed", "")
	require.Equal(t, http.StatusOK, code)
	attempts := body["attempts"].([]any)
	require.Len(t, attempts, 1)
	assert.Equal(t, "ORD-1001", attempts[0].(map[string]any)["display_order_id"])
}

func TestSubmit_Rejected(t *testing.T) {
	f := newFixture(t)
	id := f.open("cod")

	code, body := f.do(http.MethodPost, "/api/checkout/sessions/"+id+"/submit", `{"name": "Sita"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "rejected", body["outcome"])
	assert.Equal(t, checkout.ErrContactMissing.Msg, obj(t, body, "notice")["message"])
}

func TestSubmit_CreateRejected(t *testing.T) {
	f := newFixture(t)
	f.orders.err = &remote.RejectionError{Op: "create order", Status: 409, Message: "item out of stock"}
	id := f.open("cod")

	code, body := f.do(http.MethodPost, "/api/checkout/sessions/"+id+"/submit", contact)
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, "create_failed", body["outcome"])
	assert.Equal(t, "item out of stock", obj(t, body, "notice")["message"])
}

func TestSubmit_Khalti(t *testing.T) {
	f := newFixture(t)
	id := f.open("khalti")

	code, body := f.do(http.MethodPost, "/api/checkout/sessions/"+id+"/submit", contact)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "redirected", body["outcome"])
	assert.Equal(t, "external", obj(t, body, "navigate")["kind"])
}

func TestQRFlow(t *testing.T) {
	f := newFixture(t)
	id := f.open("qr")
	base := "/api/checkout/sessions/" + id

	code, body := f.do(http.MethodPost, base+"/submit", contact)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "awaiting_proof", body["outcome"])
	prompt := obj(t, body, "qr")
	assert.Equal(t, "Kart Store", prompt["display_name"])
	assert.Equal(t, 1000.0, prompt["amount"])

	_, body = f.do(http.MethodGet, base, "")
	assert.NotNil(t, body["qr"], "dialog is part of the session view")

	code, body = f.proof(id, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, checkout.ErrProofMissing.Msg, obj(t, body, "notice")["message"])

	code, body = f.proof(id, bytes.Repeat([]byte{1}, 2048))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["message"], "exceeds")

	code, body = f.proof(id, []byte("png-bytes"))
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "confirmed", body["outcome"])
	require.Len(t, f.qr.proofs, 1)
	assert.Equal(t, "proof.png", f.qr.proofs[0].File.Filename)
	assert.Equal(t, []byte("png-bytes"), f.qr.proofs[0].File.Data)
}

func TestQRFlow_UploadFailureCancels(t *testing.T) {
	f := newFixture(t)
	f.qr.uploadErr = errors.New("connection reset")
	id := f.open("qr")
	base := "/api/checkout/sessions/" + id

	code, _ := f.do(http.MethodPost, base+"/submit", contact)
	require.Equal(t, http.StatusOK, code)

	code, body := f.proof(id, []byte("png-bytes"))
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, "compensated", body["outcome"])
	assert.Nil(t, body["order"])
	assert.Equal(t, []string{"o1"}, f.orders.cancelled)

	_, body = f.do(http.MethodGet, base, "")
	assert.Nil(t, body["qr"])
}

func TestCloseQR(t *testing.T) {
	f := newFixture(t)
	id := f.open("qr")
	base := "/api/checkout/sessions/" + id

	_, _ = f.do(http.MethodPost, base+"/submit", contact)
	code, body := f.do(http.MethodDelete, base+"/qr", "")
	require.Equal(t, http.StatusOK, code)
	assert.Nil(t, body["qr"])

	code, body = f.proof(id, []byte("png"))
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, checkout.ErrNoPendingQR.Msg, obj(t, body, "notice")["message"])
}

func TestAttempts_Limit(t *testing.T) {
	f := newFixture(t)
	code, body := f.doAt(f.admin, http.MethodGet, "/admin/checkout/attempts?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["message"], "invalid limit")

	code, body = f.doAt(f.admin, http.MethodGet, "/admin/checkout/attempts", "")
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["attempts"])
}

func TestAttempts_NotOnPublicRouter(t *testing.T) {
	f := newFixture(t)
	id := f.open("cod")
	code, _ := f.do(http.MethodPost, "/api/checkout/sessions/"+id+"/submit", contact)
	require.Equal(t, http.StatusOK, code)

	for _, path := range []string{"/api/checkout/attempts", "/admin/checkout/attempts"} {
		code, body := f.do(http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, code, path)
		assert.Nil(t, body["attempts"], path)
	}
}

func TestRoutePattern(t *testing.T) {
	var pattern string
	h := New(NewRegistry(nil, time.Minute), nil, Options{})
	router := h.Router(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			pattern = RoutePattern(r)
		})
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/checkout/sessions/abc/options/city", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "/api/checkout/sessions/{sessionID}/options/{level}", pattern)
}
