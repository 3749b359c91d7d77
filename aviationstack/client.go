package aviationstack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/vykuang/mh-flight-logs/config"
	"github.com/vykuang/mh-flight-logs/pkg/logger"
)

const maxBackoff = 30 * time.Second

type httpClient interface {
	Do(req *retryablehttp.Request) (*http.Response, error)
}

// Client fetches flights pages one at a time. It is not safe for concurrent
// use; a run is strictly sequential.
type Client struct {
	client    httpClient
	baseURL   string
	accessKey string
	limiter   *rate.Limiter
	log       *logger.Logger
}

// transientStatus reports whether a status is worth another attempt.
func transientStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func transientRetryPolicy() retryablehttp.CheckRetry {
	return func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			return isTimeout(err), err
		}
		if resp == nil {
			return false, fmt.Errorf("response is nil")
		}
		return transientStatus(resp.StatusCode), nil
	}
}

// exponentialBackoff waits base * 2^attempt, ignoring Retry-After.
func exponentialBackoff(base time.Duration) retryablehttp.Backoff {
	return func(_, max time.Duration, attemptNum int, _ *http.Response) time.Duration {
		wait := time.Duration(float64(base) * math.Pow(2, float64(attemptNum)))
		if wait > max || wait < 0 {
			return max
		}
		return wait
	}
}

// giveUp turns the final failed attempt into ExhaustedError when it was
// retryable and ErrTransport otherwise.
func giveUp(resp *http.Response, err error, numTries int) (*http.Response, error) {
	status := 0
	if resp != nil {
		status = resp.StatusCode
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}
	if err == nil && transientStatus(status) {
		return nil, &ExhaustedError{Attempts: numTries, StatusCode: status}
	}
	if isTimeout(err) {
		return nil, &ExhaustedError{Attempts: numTries, Err: err}
	}
	if err == nil {
		err = fmt.Errorf("giving up after %d attempt(s), status %d", numTries, status)
	}
	return nil, fmt.Errorf("%w: %w", ErrTransport, err)
}

// NewClient builds a client with bounded retry and request pacing from cfg.
func NewClient(cfg config.AviationstackConfig, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Default()
	}
	log = log.WithField("component", "aviationstack")

	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	client := retryablehttp.NewClient()
	client.RetryMax = attempts - 1
	client.Logger = nil
	client.CheckRetry = transientRetryPolicy()
	client.Backoff = exponentialBackoff(cfg.BackoffBase)
	client.RetryWaitMin = cfg.BackoffBase
	client.RetryWaitMax = maxBackoff
	client.ErrorHandler = giveUp
	client.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			log.Debug("retrying page request", "attempt", attempt+1, "offset", req.URL.Query().Get("offset"))
		}
	}
	if cfg.Timeout > 0 {
		client.HTTPClient.Timeout = cfg.Timeout
	}

	limit := rate.Inf
	if cfg.RequestInterval > 0 {
		limit = rate.Every(cfg.RequestInterval)
	}

	return &Client{
		client:    client,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		accessKey: cfg.AccessKey,
		limiter:   rate.NewLimiter(limit, 1),
		log:       log,
	}
}

func (c *Client) pageURL(q Query, offset int) (string, error) {
	u, err := url.Parse(c.baseURL + "/flights")
	if err != nil {
		return "", fmt.Errorf("aviationstack: invalid base url %q: %w", c.baseURL, err)
	}
	params := u.Query()
	params.Set("access_key", c.accessKey)
	params.Set("offset", strconv.Itoa(offset))
	params.Set("limit", strconv.Itoa(q.PageSize))
	if q.AirlineIATA != "" {
		params.Set("airline_iata", q.AirlineIATA)
	} else {
		params.Set("airline_name", q.AirlineName)
	}
	if q.MinDelay != nil && *q.MinDelay > 0 {
		params.Set("min_delay_arr", strconv.Itoa(*q.MinDelay))
	}
	u.RawQuery = params.Encode()
	return u.String(), nil
}

// FetchPage requests the page starting at offset. It waits for the pacing
// limiter first, then retries transient failures up to the configured bound.
func (c *Client) FetchPage(ctx context.Context, q Query, offset int) (*Page, error) {
	q, _, err := q.validate()
	if err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	urlStr, err := c.pageURL(q, offset)
	if err != nil {
		return nil, err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	// the body is read inside the retry loop so a timeout mid-body counts
	// as a failed attempt rather than escaping the bound
	var body []byte
	req.SetResponseHandler(func(resp *http.Response) error {
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		body = b
		return nil
	})

	c.log.Info("retrieving page", "offset", offset, "until", offset+q.PageSize)
	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("fetch page at offset %d: %w", offset, err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet := string(body)
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: snippet}
	}

	page, err := ParsePage(body)
	if err != nil {
		return nil, fmt.Errorf("page at offset %d: %w", offset, err)
	}
	page.Offset = offset
	page.Limit = q.PageSize
	return page, nil
}

// Pages yields every page of q in order. The first request uses offset 0 and
// each following one advances by the previous page's count. The total
// declared by the first page bounds the whole run. A failed page ends the
// sequence with its error; pages are never skipped.
func (c *Client) Pages(ctx context.Context, q Query) iter.Seq2[*Page, error] {
	return func(yield func(*Page, error) bool) {
		q, clamped, err := q.validate()
		if err != nil {
			yield(nil, err)
			return
		}
		if clamped {
			c.log.Warn("page size clamped to server maximum", "max", config.MaxPageSize)
		}

		offset, total := 0, -1
		for {
			page, err := c.FetchPage(ctx, q, offset)
			if err != nil {
				yield(nil, err)
				return
			}

			if total < 0 {
				total = page.Pagination.Total
				c.log.Info("total records count", "total", total, "date", q.Date)
			} else if page.Pagination.Total != total {
				c.log.Warn("upstream total changed mid-run, keeping the first",
					"first_total", total, "page_total", page.Pagination.Total, "offset", offset)
			}

			if !yield(page, nil) {
				return
			}

			if page.Pagination.Count == 0 {
				if offset > 0 && offset < total {
					c.log.Warn("empty page before declared total", "offset", offset, "total", total)
				}
				return
			}
			offset += page.Pagination.Count
			if offset >= total {
				return
			}
		}
	}
}
