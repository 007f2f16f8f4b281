// Package history reads paginated order-chat history from the REST backend
// and carries the offline read-receipt fallback.
package history

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	resty "resty.dev/v3"

	"github.com/nlanhduy/online-auction-chat/internal/logging"
	"github.com/nlanhduy/online-auction-chat/internal/wire"
)

const (
	requestTimeout  = 10 * time.Second
	maxFetchRetries = 3
)

var (
	// ErrInvalidPage is returned for page < 1 before any round trip.
	ErrInvalidPage = errors.New("page must be >= 1")
	// ErrInvalidPageSize is returned for pageSize < 1 before any round trip.
	ErrInvalidPageSize = errors.New("pageSize must be > 0")
)

// FetchError is a typed backend failure. The Session Coordinator inspects it
// to decide between retrying and surfacing the error to the caller.
type FetchError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: backend returned %d: %s", e.Op, e.Status, e.Body)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Transient reports whether the failure is worth retrying: network errors and
// server-side (5xx) failures are; client (4xx) rejections are not.
func (e *FetchError) Transient() bool {
	return e.Status == 0 || e.Status >= http.StatusInternalServerError
}

// Client fetches history pages for an order. It performs no deduplication or
// cross-page merging; that is the timeline store's job.
type Client struct {
	http *resty.Client
	log  *zap.SugaredLogger
}

// NewClient builds a history client for the given REST base URL. The bearer
// token is attached to every request.
func NewClient(baseURL, token string, log *zap.SugaredLogger) *Client {
	if log == nil {
		log = logging.Nop()
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(requestTimeout).
		SetAuthToken(token)
	return &Client{http: c, log: log}
}

// Close releases the underlying HTTP client resources.
func (c *Client) Close() error {
	return c.http.Close()
}

// FetchPage returns one page of messages for the order, oldest first within
// the page, plus the continuation flag. Transient failures are retried with
// bounded exponential backoff before the error is surfaced.
func (c *Client) FetchPage(ctx context.Context, orderID string, page, pageSize int) (wire.HistoryPage, error) {
	if page < 1 {
		return wire.HistoryPage{}, ErrInvalidPage
	}
	if pageSize < 1 {
		return wire.HistoryPage{}, ErrInvalidPageSize
	}

	var out wire.HistoryPage
	op := func() error {
		var pageResult wire.HistoryPage
		resp, err := c.http.R().
			SetContext(ctx).
			SetPathParam("orderId", orderID).
			SetQueryParam("page", fmt.Sprintf("%d", page)).
			SetQueryParam("limit", fmt.Sprintf("%d", pageSize)).
			SetResult(&pageResult).
			Get("/orders/{orderId}/messages")
		if err != nil {
			return &FetchError{Op: "fetch messages", Err: err}
		}
		if resp.IsError() {
			ferr := &FetchError{Op: "fetch messages", Status: resp.StatusCode(), Body: resp.String()}
			if ferr.Transient() {
				return ferr
			}
			return backoff.Permanent(ferr)
		}
		out = pageResult
		return nil
	}

	if err := backoff.Retry(op, c.policy(ctx)); err != nil {
		c.log.Warnw("history fetch failed", "orderId", orderID, "page", page, "err", err)
		return wire.HistoryPage{}, err
	}
	return out, nil
}

// MarkRead acknowledges read state over REST. This is the fallback used when
// the live channel is down so read state is not lost while disconnected.
func (c *Client) MarkRead(ctx context.Context, orderID string) error {
	op := func() error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetPathParam("orderId", orderID).
			Post("/orders/{orderId}/messages/read")
		if err != nil {
			return &FetchError{Op: "mark read", Err: err}
		}
		if resp.IsError() {
			ferr := &FetchError{Op: "mark read", Status: resp.StatusCode(), Body: resp.String()}
			if ferr.Transient() {
				return ferr
			}
			return backoff.Permanent(ferr)
		}
		return nil
	}

	if err := backoff.Retry(op, c.policy(ctx)); err != nil {
		c.log.Warnw("read fallback failed", "orderId", orderID, "err", err)
		return err
	}
	return nil
}

func (c *Client) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(b, maxFetchRetries), ctx)
}
