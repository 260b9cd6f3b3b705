package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/books_reconcile/appctx"
	"github.com/mmdatafocus/books_reconcile/config"
	"github.com/mmdatafocus/books_reconcile/models"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	headerToken          = "token"
	headerBusinessId     = "x-business-id"
	headerCorrelationId  = "x-correlation-id"
	headerIdempotencyKey = "Idempotency-Key"

	defaultTimeout = 15 * time.Second
)

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *logrus.Logger
	// ReadBreaker is optional. Nil disables short-circuiting of fetches.
	ReadBreaker *gobreaker.CircuitBreaker
}

// Client talks JSON over HTTP to the books backend.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *logrus.Logger
	reads   *gobreaker.CircuitBreaker
	tracer  trace.Tracer
}

var _ Backend = (*Client)(nil)

func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimSpace(opts.BaseURL)
	if baseURL == "" {
		return nil, errors.New("backend url is empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("backend url: %w", err)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = config.GetLogger()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		logger:  logger,
		reads:   opts.ReadBreaker,
		tracer:  otel.Tracer("books_reconcile/backend"),
	}, nil
}

func (c *Client) FetchOutstanding(ctx context.Context, session models.Session, query models.OutstandingQuery) ([]models.OutstandingDocument, error) {
	params := url.Values{}
	params.Set("party_id", strconv.Itoa(query.PartyId))
	params.Set("party_type", string(query.PartyType))
	params.Set("document_type", string(query.DocumentType))

	body, err := c.read(ctx, "FetchOutstanding", func() ([]byte, error) {
		return c.do(ctx, session, "FetchOutstanding", http.MethodGet, "/outstanding-documents?"+params.Encode(), nil, "")
	})
	if err != nil {
		return nil, err
	}
	docs, err := NormalizeDocuments(body)
	if err != nil {
		config.LogError(c.logger, "Backend", "FetchOutstanding", "normalizing documents", query, err)
		return nil, err
	}
	return docs, nil
}

func (c *Client) FetchPendingOrderLines(ctx context.Context, session models.Session, orderId int) ([]models.OrderLine, error) {
	path := fmt.Sprintf("/orders/%d/lines", orderId)
	body, err := c.read(ctx, "FetchPendingOrderLines", func() ([]byte, error) {
		return c.do(ctx, session, "FetchPendingOrderLines", http.MethodGet, path, nil, "")
	})
	if err != nil {
		return nil, err
	}
	lines, err := NormalizeOrderLines(body)
	if err != nil {
		config.LogError(c.logger, "Backend", "FetchPendingOrderLines", "normalizing order lines", orderId, err)
		return nil, err
	}
	return lines, nil
}

// SubmitVoucher creates the voucher, or updates it when draft.VoucherId is set.
func (c *Client) SubmitVoucher(ctx context.Context, session models.Session, draft models.VoucherDraft, idempotencyKey string) (models.VoucherResult, error) {
	method, path := http.MethodPost, fmt.Sprintf("/vouchers/%s", draft.Type)
	if draft.VoucherId > 0 {
		method, path = http.MethodPut, fmt.Sprintf("/vouchers/%s/%d", draft.Type, draft.VoucherId)
	}
	var result models.VoucherResult
	err := c.write(ctx, session, "SubmitVoucher", method, path, draft, idempotencyKey, &result)
	return result, err
}

func (c *Client) SubmitGRN(ctx context.Context, session models.Session, draft models.GRNDraft, idempotencyKey string) (models.GRNResult, error) {
	var result models.GRNResult
	err := c.write(ctx, session, "SubmitGRN", http.MethodPost, "/grns", draft, idempotencyKey, &result)
	if err == nil && result.Status == "" {
		result.Status = models.GRNStatusReceived
	}
	return result, err
}

func (c *Client) ConvertGRN(ctx context.Context, session models.Session, grnId int) (models.GRNResult, error) {
	return c.transitionGRN(ctx, session, "ConvertGRN", grnId, "convert", models.GRNStatusConverted)
}

func (c *Client) CancelGRN(ctx context.Context, session models.Session, grnId int) (models.GRNResult, error) {
	return c.transitionGRN(ctx, session, "CancelGRN", grnId, "cancel", models.GRNStatusCancelled)
}

func (c *Client) transitionGRN(ctx context.Context, session models.Session, op string, grnId int, action string, status models.GRNStatus) (models.GRNResult, error) {
	var result models.GRNResult
	err := c.write(ctx, session, op, http.MethodPost, fmt.Sprintf("/grns/%d/%s", grnId, action), nil, "", &result)
	if err != nil {
		return result, err
	}
	if result.ID == 0 {
		result.ID = grnId
	}
	if result.Status == "" {
		result.Status = status
	}
	return result, nil
}

func (c *Client) SubmitReturn(ctx context.Context, session models.Session, draft models.ReturnDraft, idempotencyKey string) (models.ReturnResult, error) {
	var result models.ReturnResult
	err := c.write(ctx, session, "SubmitReturn", http.MethodPost, "/returns", draft, idempotencyKey, &result)
	if err == nil && result.Status == "" {
		result.Status = models.ReturnStatusDraft
	}
	return result, err
}

func (c *Client) IssueReturn(ctx context.Context, session models.Session, returnId int) (models.IssueResult, error) {
	var result models.IssueResult
	err := c.write(ctx, session, "IssueReturn", http.MethodPost, fmt.Sprintf("/returns/%d/issue", returnId), nil, "", &result)
	return result, err
}

// read runs a fetch through the breaker. Only transport failures and 5xx responses count
// against it, a 4xx is the caller's problem.
func (c *Client) read(ctx context.Context, op string, fetch func() ([]byte, error)) ([]byte, error) {
	if c.reads == nil {
		return fetch()
	}
	var rejected error
	out, err := c.reads.Execute(func() (interface{}, error) {
		body, err := fetch()
		var be *BackendError
		if errors.As(err, &be) && !be.Temporary() {
			rejected = err
			return nil, nil
		}
		return body, err
	})
	if rejected != nil {
		return nil, rejected
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &BackendError{Op: op, Message: "service unavailable: circuit breaker open", Err: ErrUnavailable}
	}
	if err != nil {
		return nil, err
	}
	body, _ := out.([]byte)
	return body, nil
}

// write sends a posting once. A 409 on a lifecycle action means the document already left the
// status the action needs.
func (c *Client) write(ctx context.Context, session models.Session, op, method, path string, payload any, idempotencyKey string, out any) error {
	body, err := c.do(ctx, session, op, method, path, payload, idempotencyKey)
	if err != nil {
		var be *BackendError
		if errors.As(err, &be) && be.Status == http.StatusConflict && payload == nil {
			be.Err = models.ErrInvalidTransition
		}
		config.LogError(c.logger, "Backend", op, path, payload, err)
		return err
	}
	if err := decodeResult(body, out); err != nil {
		be := &BackendError{Op: op, Message: "unreadable backend response: " + err.Error(), Err: err}
		config.LogError(c.logger, "Backend", op, path, string(body), be)
		return be
	}
	return nil
}

func (c *Client) do(ctx context.Context, session models.Session, op, method, path string, payload any, idempotencyKey string) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "backend."+op, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.path", path),
			attribute.String("business.id", session.BusinessId),
		))
	defer span.End()

	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(headerToken, session.Token)
	req.Header.Set(headerBusinessId, session.BusinessId)
	if id := appctx.CorrelationId(ctx); id != "" {
		req.Header.Set(headerCorrelationId, id)
	}
	if idempotencyKey != "" {
		req.Header.Set(headerIdempotencyKey, idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &BackendError{Op: op, Message: err.Error(), Err: errors.Join(ErrUnavailable, err)}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		be := &BackendError{Op: op, Status: resp.StatusCode, Message: errorMessage(body, resp.Status)}
		span.SetStatus(codes.Error, be.Message)
		return nil, be
	}
	return body, nil
}

// errorMessage picks the user-facing text out of an error body.
func errorMessage(body []byte, fallback string) string {
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Errors  []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		switch {
		case parsed.Error != "":
			return parsed.Error
		case parsed.Message != "":
			return parsed.Message
		case len(parsed.Errors) > 0 && parsed.Errors[0].Message != "":
			return parsed.Errors[0].Message
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return fallback
}

// decodeResult accepts a bare object or one wrapped in {"data": {...}}.
func decodeResult(body []byte, out any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		if data := bytes.TrimSpace(env.Data); len(data) > 0 && data[0] == '{' {
			body = data
		}
	}
	return json.Unmarshal(body, out)
}
