package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"chartermap/internal/components/assert"
	"chartermap/internal/components/telemetry"
	"chartermap/lib/osutil"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	report_fetch_retry   = "fetcher.retry"
	report_fetch_give_up = "fetcher.give-up"
)

var tracer = otel.Tracer("chartermap/fetch")
var meter = otel.Meter("chartermap/fetch")
var attemptCounter, _ = meter.Int64Counter(
	"chartermap.fetch.attempts",
	metric.WithDescription("upstream requests made, including retries"),
)

// ErrTransient matches every error returned once all attempts of a
// request have failed.
var ErrTransient = errors.New("transient fetch failure")

// ErrMalformedBody is the attempt error for a body that is not valid json.
var ErrMalformedBody = errors.New("malformed response body")

type TransientError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("fetch %s: gave up after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() []error {
	return []error{ErrTransient, e.Err}
}

type StatusError struct {
	Status  int
	Snippet string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d %s", e.Status, e.Snippet)
}

type Options struct {
	MaxAttempts int
	// BaseDelay is multiplied by the attempt number to get the wait
	// before the next attempt.
	BaseDelay time.Duration
	// Timeout applies to each attempt unless the Request sets its own.
	Timeout time.Duration
	// RatePerSecond caps requests made through one Fetcher, 0 disables it.
	RatePerSecond    float64
	UserAgent        string
	CloudflareBypass bool
}

func DefaultOptions() Options {
	return Options{
		MaxAttempts: 3,
		BaseDelay:   400 * time.Millisecond,
		Timeout:     12 * time.Second,
	}
}

type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	Timeout time.Duration
}

func Get(url string) Request {
	return Request{Method: http.MethodGet, URL: url}
}

// Fetcher performs requests with bounded attempts, it is safe for
// concurrent use.
type Fetcher struct {
	http *resty.Client
	opts Options
	tel  telemetry.API
}

func New(opts Options, tel telemetry.API) *Fetcher {
	assert.NotNil(tel, "tel")
	assert.Positive(opts.MaxAttempts, "max attempts")

	tel = telemetry.NewScopedAPI("fetch", tel)

	client := resty.New()
	client.SetHeader("accept", "*/*")
	if opts.UserAgent != "" {
		client.SetHeader("user-agent", opts.UserAgent)
	}
	if opts.CloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}

	if opts.RatePerSecond > 0 {
		// burst >= 1 just means that no requests will be dropped
		burst := int(opts.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		rateLimiter := rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
		client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return rateLimiter.Wait(req.Context())
		})
	}

	telemetry.InstrumentResty(client, tel)

	return &Fetcher{
		http: client,
		opts: opts,
		tel:  tel,
	}
}

// Fetch returns the body of the first successful attempt.
func (f *Fetcher) Fetch(ctx context.Context, req Request) ([]byte, error) {
	return f.do(ctx, req, nil)
}

// FetchJSON is Fetch where a body that is not valid json also counts as a
// failed attempt. The final body is decoded into out.
func (f *Fetcher) FetchJSON(ctx context.Context, req Request, out any) error {
	body, err := f.do(ctx, req, func(body []byte) error {
		if !json.Valid(body) {
			return ErrMalformedBody
		}
		return nil
	})
	if err != nil {
		return err
	}
	err = json.Unmarshal(body, out)
	if err != nil {
		return fmt.Errorf("decode %s: %w", req.URL, err)
	}
	return nil
}

func (f *Fetcher) do(ctx context.Context, req Request, validate func([]byte) error) ([]byte, error) {
	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= f.opts.MaxAttempts; attempt++ {
		attempts = attempt
		body, err := f.attempt(ctx, req)
		if err == nil && validate != nil {
			err = validate(body)
		}
		if err == nil {
			return body, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		if attempt == f.opts.MaxAttempts {
			break
		}
		f.tel.ReportDebug(report_fetch_retry, req.URL, attempt, err)
		if !osutil.Sleep(ctx, f.opts.BaseDelay*time.Duration(attempt)) {
			lastErr = ctx.Err()
			break
		}
	}

	f.tel.ReportDebug(report_fetch_give_up, req.URL, attempts, lastErr)
	return nil, &TransientError{URL: req.URL, Attempts: attempts, Err: lastErr}
}

func (f *Fetcher) attempt(ctx context.Context, req Request) ([]byte, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = f.opts.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ctx, span := tracer.Start(ctx, "fetch.attempt", trace.WithAttributes(
		attribute.String("http.url", req.URL),
	))
	defer span.End()
	attemptCounter.Add(ctx, 1)

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	r := f.http.R().SetContext(ctx)
	for k, v := range req.Headers {
		r.SetHeader(k, v)
	}
	if req.Body != nil {
		r.SetBody(req.Body)
	}

	res, err := r.Execute(method, req.URL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.status_code", res.StatusCode()))

	status := res.StatusCode()
	if status < 200 || status >= 300 {
		err := &StatusError{Status: status, Snippet: snippet(res.Body())}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return res.Body(), nil
}

func snippet(body []byte) string {
	const limit = 120
	if len(body) > limit {
		return string(body[:limit])
	}
	return string(body)
}
