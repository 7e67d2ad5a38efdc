package payment

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
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

const maxResponseBytes = 1 << 20

// Config holds gateway endpoints and credentials.
type Config struct {
	AuthURL       string
	BaseURL       string
	ClientID      string
	ClientSecret  string
	ClientVersion string
	GrantType     string
	RedirectURL   string
	Timeout       time.Duration
	PaymentExpiry time.Duration
	RefreshSkew   time.Duration
}

// Client talks to the payment gateway. Calls are never retried: a failure
// is returned to the caller immediately.
type Client struct {
	cfg    Config
	http   *http.Client
	tokens *TokenCache
	tp     trace.TracerProvider
	tracer trace.Tracer
	now    func() time.Time
}

// Option configures a Client.
type Option func(c *Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTracerProvider sets the tracer provider for spans and outgoing
// requests. The HTTP client passed to WithHTTPClient is not modified.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) { c.tp = tp }
}

// NewClient creates a gateway Client.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.PaymentExpiry <= 0 {
		cfg.PaymentExpiry = 20 * time.Minute
	}
	if cfg.RefreshSkew <= 0 {
		cfg.RefreshSkew = time.Minute
	}
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout, Transport: http.DefaultTransport},
		tracer: noop.NewTracerProvider().Tracer("storefront/payment"),
		now:    time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	if c.tp != nil {
		c.tracer = c.tp.Tracer("storefront/payment")
		hc := *c.http
		base := hc.Transport
		if base == nil {
			base = http.DefaultTransport
		}
		hc.Transport = otelhttp.NewTransport(base, otelhttp.WithTracerProvider(c.tp))
		c.http = &hc
	}
	c.tokens = NewTokenCache(c.fetchToken, cfg.RefreshSkew)
	c.tokens.now = func() time.Time { return c.now() }
	return c
}

// Tokens exposes the token cache.
func (c *Client) Tokens() *TokenCache {
	return c.tokens
}

// Initiate creates a hosted checkout session for merchantOrderID.
func (c *Client) Initiate(ctx context.Context, merchantOrderID string, payer Payer, amount decimal.Decimal) (_ Session, rerr error) {
	ctx, span := c.tracer.Start(ctx, "payment.Initiate",
		trace.WithAttributes(attribute.String("merchant_order_id", merchantOrderID)),
	)
	defer func() { endSpan(span, rerr) }()

	e := &jx.Encoder{}
	payRequest{
		MerchantOrderID: merchantOrderID,
		Amount:          amount,
		ExpireAfter:     c.cfg.PaymentExpiry,
		Payer:           payer,
		RedirectURL:     c.cfg.RedirectURL,
	}.encode(e)

	body, err := c.do(ctx, "initiate", http.MethodPost, "/checkout/v2/pay", e.Bytes())
	if err != nil {
		return Session{}, err
	}
	return decodeSession(body)
}

// Status returns the gateway state of a payment.
func (c *Client) Status(ctx context.Context, merchantOrderID string) (_ OrderStatus, rerr error) {
	ctx, span := c.tracer.Start(ctx, "payment.Status",
		trace.WithAttributes(attribute.String("merchant_order_id", merchantOrderID)),
	)
	defer func() { endSpan(span, rerr) }()

	body, err := c.do(ctx, "status", http.MethodGet, "/checkout/v2/order/"+url.PathEscape(merchantOrderID)+"/status", nil)
	if err != nil {
		return OrderStatus{}, err
	}
	return decodeOrderStatus(body)
}

// Refund requests a refund of amount against originalMerchantOrderID.
func (c *Client) Refund(ctx context.Context, merchantRefundID, originalMerchantOrderID string, amount decimal.Decimal) (_ Refund, rerr error) {
	ctx, span := c.tracer.Start(ctx, "payment.Refund",
		trace.WithAttributes(
			attribute.String("merchant_refund_id", merchantRefundID),
			attribute.String("merchant_order_id", originalMerchantOrderID),
		),
	)
	defer func() { endSpan(span, rerr) }()

	e := &jx.Encoder{}
	refundRequest{
		MerchantRefundID:        merchantRefundID,
		OriginalMerchantOrderID: originalMerchantOrderID,
		Amount:                  amount,
	}.encode(e)

	body, err := c.do(ctx, "refund", http.MethodPost, "/payments/v2/refund", e.Bytes())
	if err != nil {
		return Refund{}, err
	}
	r, err := decodeRefund(body)
	if err != nil {
		return Refund{}, err
	}
	if r.MerchantRefundID == "" {
		r.MerchantRefundID = merchantRefundID
	}
	return r, nil
}

// RefundStatus returns the gateway state of a refund.
func (c *Client) RefundStatus(ctx context.Context, merchantRefundID string) (_ Refund, rerr error) {
	ctx, span := c.tracer.Start(ctx, "payment.RefundStatus",
		trace.WithAttributes(attribute.String("merchant_refund_id", merchantRefundID)),
	)
	defer func() { endSpan(span, rerr) }()

	body, err := c.do(ctx, "refund status", http.MethodGet, "/payments/v2/refund/"+url.PathEscape(merchantRefundID)+"/status", nil)
	if err != nil {
		return Refund{}, err
	}
	r, err := decodeRefund(body)
	if err != nil {
		return Refund{}, err
	}
	if r.MerchantRefundID == "" {
		r.MerchantRefundID = merchantRefundID
	}
	return r, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, payload []byte) ([]byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, body)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: build request", op)
	}
	req.Header.Set("Authorization", "O-Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, unavailable(errors.Wrap(err, op))
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, unavailable(errors.Wrapf(err, "%s: read response", op))
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.Invalidate()
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		gErr := &GatewayError{Op: op, StatusCode: resp.StatusCode}
		decodeErrorBody(data, gErr)
		zctx.From(ctx).Warn("Gateway call failed",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.String("code", gErr.Code),
		)
		return nil, gErr
	}
	return data, nil
}

func (c *Client) fetchToken(ctx context.Context) (Token, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	form := url.Values{}
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("client_version", c.cfg.ClientVersion)
	form.Set("grant_type", c.cfg.GrantType)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.AuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, errors.Wrap(err, "build token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return Token{}, errors.Wrap(err, "token request")
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Token{}, errors.Wrap(err, "read token response")
	}
	if resp.StatusCode != http.StatusOK {
		// The body may echo credentials, keep it out of the error.
		return Token{}, &GatewayError{Op: "token", StatusCode: resp.StatusCode}
	}
	tok, err := decodeToken(data, c.now())
	if err != nil {
		return Token{}, err
	}
	zctx.From(ctx).Debug("Gateway token refreshed", zap.Time("expires_at", tok.ExpiresAt))
	return tok, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
