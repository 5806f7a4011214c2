// Package storefront is the HTTP adapter for the storefront backend: coupon
// eligibility, courier lookups, order creation and cancellation, Khalti
// initiation and the QR payment endpoints.
//
// Every response is checked the same way. A non-2xx status or a body with
// `"success": false` becomes a *remote.RejectionError carrying the server
// message; transport failures are returned wrapped and classify as network
// failures.
package storefront

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/kart-checkout/internal/domain/address"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/remote"
)

// maxBody caps how much of a response is read.
const maxBody = 4 << 20

// Endpoint paths relative to the base URL.
const (
	pathEligibility = "coupons/check-eligibility"
	pathCities      = "courier/cities"
	pathZones       = "courier/zones"
	pathAreas       = "courier/areas"
	pathPricePlan   = "courier/price-plan"
	pathOrder       = "order"
	pathKhalti      = "payments/khalti/initiate"
	pathQRConfig    = "payments/qr/config"
	pathQRProof     = "payments/qr/proof"
	pathProduct     = "products"
)

var (
	_ address.Courier        = (*Client)(nil)
	_ coupon.Checker         = (*Client)(nil)
	_ coupon.ImageLookup     = (*Client)(nil)
	_ checkout.OrderAPI      = (*Client)(nil)
	_ checkout.KhaltiGateway = (*Client)(nil)
	_ checkout.QRPayments    = (*Client)(nil)
)

// Options configure a Client.
type Options struct {
	Timeout time.Duration
	// Token is sent as a bearer token when set.
	Token          string
	Transport      http.RoundTripper
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

// Client calls the storefront backend.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, opts Options) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.Errorf("base url %q must be absolute", baseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	rt := opts.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	var otelOpts []otelhttp.Option
	if opts.TracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(opts.TracerProvider))
	}
	if opts.MeterProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(opts.MeterProvider))
	}
	otelOpts = append(otelOpts, otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
		return "storefront " + r.Method + " " + r.URL.Path
	}))

	return &Client{
		base:  base,
		token: opts.Token,
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(rt, otelOpts...),
		},
	}, nil
}

// Ping checks that the storefront answers at all. Any HTTP response counts.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.base.String(), http.NoBody)
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "ping storefront")
	}
	_ = resp.Body.Close()
	return nil
}

type request struct {
	op          string
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
}

func (c *Client) url(path string, query url.Values) string {
	u := c.base.ResolveReference(&url.URL{Path: path})
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do sends r and returns the body of an accepted response.
func (c *Client) do(ctx context.Context, r request) ([]byte, error) {
	var body io.Reader = http.NoBody
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, c.url(r.path, r.query), body)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: create request", r.op)
	}
	req.Header.Set("Accept", "application/json")
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, r.op)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, errors.Wrapf(err, "%s: read response", r.op)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &remote.RejectionError{Op: r.op, Status: resp.StatusCode, Message: message(data)}
	}
	if ok, present := success(data); present && !ok {
		return nil, &remote.RejectionError{Op: r.op, Status: resp.StatusCode, Message: message(data)}
	}
	return data, nil
}

func (c *Client) get(ctx context.Context, op, path string, query url.Values) ([]byte, error) {
	return c.do(ctx, request{op: op, method: http.MethodGet, path: path, query: query})
}

func (c *Client) postJSON(ctx context.Context, op, path string, e *jx.Encoder) ([]byte, error) {
	return c.do(ctx, request{
		op:          op,
		method:      http.MethodPost,
		path:        path,
		body:        e.Bytes(),
		contentType: "application/json",
	})
}
