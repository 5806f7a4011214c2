package storefront

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
)

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// QRConfig implements checkout.QRPayments.
func (c *Client) QRConfig(ctx context.Context) (*checkout.QRConfig, error) {
	data, err := c.get(ctx, "fetch qr config", pathQRConfig, nil)
	if err != nil {
		return nil, err
	}
	raw, ok := lookup(data, "data")
	if !ok {
		return nil, errors.New("fetch qr config: response has no data")
	}
	cfg := &checkout.QRConfig{
		DisplayName: stringAt(raw, "displayName"),
		Image:       stringAt(raw, "image"),
	}
	if cfg.Image == "" {
		return nil, errors.New("fetch qr config: response has no image")
	}
	return cfg, nil
}

// UploadProof implements checkout.QRPayments. The proof is sent as a
// multipart form with the order reference fields.
func (c *Client) UploadProof(ctx context.Context, p checkout.Proof) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	contentType := p.File.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	filename := p.File.Filename
	if filename == "" {
		filename = "proof"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+quoteEscaper.Replace(filename)+`"`)
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return errors.Wrap(err, "upload proof: create part")
	}
	if _, err := part.Write(p.File.Data); err != nil {
		return errors.Wrap(err, "upload proof: write file")
	}
	for _, f := range [][2]string{
		{"order_id", p.OrderID},
		{"display_order_id", p.DisplayOrderID},
		{"amount", p.Amount.StringFixed(2)},
	} {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return errors.Wrapf(err, "upload proof: write %s", f[0])
		}
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, "upload proof: close form")
	}

	_, err = c.do(ctx, request{
		op:          "upload proof",
		method:      http.MethodPost,
		path:        pathQRProof,
		body:        buf.Bytes(),
		contentType: w.FormDataContentType(),
	})
	return err
}
