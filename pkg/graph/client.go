package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/oauth2"

	apperrors "github.com/ThomasHoins/Intunewin/internal/errors"
	"github.com/ThomasHoins/Intunewin/pkg/utils"
)

// DefaultBaseURL is the Graph beta endpoint; win32LobApp content upload is
// not available on v1.0.
const DefaultBaseURL = "https://graph.microsoft.com/beta"

var (
	// ErrHTTPStatus matches any unexpected HTTP status from Graph or storage.
	ErrHTTPStatus = apperrors.Sentinel(apperrors.ErrorTypeNetwork, "HTTP_STATUS")
	// ErrRequestFailed matches a request that got no response at all.
	ErrRequestFailed = apperrors.Sentinel(apperrors.ErrorTypeNetwork, "REQUEST_FAILED")
)

// retryPolicy selects which failures a request is sent again for
type retryPolicy int

const (
	// retryTransient resends on 429, 5xx and transport errors
	retryTransient retryPolicy = iota
	// retryThrottled resends on 429 only. Used for POSTs that create a
	// record, which the server may have stored before answering 5xx or
	// dropping the connection.
	retryThrottled
)

func (p retryPolicy) retries(status int) bool {
	if p == retryThrottled {
		return status == http.StatusTooManyRequests
	}
	return retryableStatus(status)
}

// Client is a minimal JSON client for the Intune app endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     oauth2.TokenSource
	logger     utils.LeveledLogger

	// backoff returns the retry policy for one request
	backoff func() retry.Backoff
	// correlation id sent as client-request-id
	sessionID string
	userAgent string
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger
func WithLogger(l utils.LeveledLogger) Option {
	return func(c *Client) { c.logger = l }
}

// WithUserAgent sets the User-Agent header
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithBackoff overrides the retry policy for 429 and 5xx responses
func WithBackoff(f func() retry.Backoff) Option {
	return func(c *Client) { c.backoff = f }
}

// NewClient creates a Graph client
func NewClient(baseURL string, tokens oauth2.TokenSource, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		tokens:     tokens,
		logger:     utils.NopLogger(),
		backoff:    defaultBackoff,
		sessionID:  uuid.NewString(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func defaultBackoff() retry.Backoff {
	b := retry.NewExponential(time.Second)
	b = retry.WithJitterPercent(20, b)
	b = retry.WithCappedDuration(30*time.Second, b)
	return retry.WithMaxRetries(5, b)
}

// SessionID returns the client-request-id sent with every call
func (c *Client) SessionID() string {
	return c.sessionID
}

// do sends a JSON request to path and decodes the response into out when
// out is not nil. 429, 5xx and transport errors are retried.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	return c.send(ctx, retryTransient, method, path, body, out)
}

// create posts a new record. Only throttled requests are sent again; see
// uncertain for the failures that may have stored the record anyway.
func (c *Client) create(ctx context.Context, path string, body, out interface{}) error {
	return c.send(ctx, retryThrottled, http.MethodPost, path, body, out)
}

func (c *Client) send(ctx context.Context, policy retryPolicy, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s %s: %w", method, path, err)
		}
	}

	url := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		url = c.baseURL + path
	}

	var respBody []byte
	err := retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		token, err := c.tokens.Token()
		if err != nil {
			return apperrors.WrapError(err, apperrors.ErrorTypeAuth, "AUTH_FAILED", "failed to acquire access token")
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("client-request-id", c.sessionID)
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}
		token.SetAuthHeader(req)

		c.logger.Debug("%s %s", method, url)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			reqErr := apperrors.WrapError(err, apperrors.ErrorTypeNetwork, ErrRequestFailed.Code,
				fmt.Sprintf("%s %s failed", method, path))
			if policy == retryThrottled {
				return reqErr
			}
			return retry.RetryableError(reqErr)
		}
		defer resp.Body.Close()

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			reqErr := apperrors.WrapError(err, apperrors.ErrorTypeNetwork, ErrRequestFailed.Code,
				fmt.Sprintf("reading response of %s %s failed", method, path))
			if policy == retryThrottled {
				return reqErr
			}
			return retry.RetryableError(reqErr)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			statusErr := newStatusError(method, path, resp.StatusCode, respBody)
			if policy.retries(resp.StatusCode) {
				c.logger.Warn("%s %s returned %d, retrying", method, path, resp.StatusCode)
				return retry.RetryableError(statusErr)
			}
			return statusErr
		}
		return nil
	})
	if err != nil {
		return err
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return apperrors.WrapError(err, apperrors.ErrorTypeParsing, "RESPONSE_PARSE",
				fmt.Sprintf("failed to decode response of %s %s", method, path))
		}
	}
	return nil
}

// uncertain reports a failed create whose record may exist on the server.
func uncertain(err error) bool {
	return StatusCode(err) >= 500 || errors.Is(err, ErrRequestFailed)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func newStatusError(method, target string, status int, body []byte) *apperrors.IntuneError {
	msg := fmt.Sprintf("%s %s returned %d %s", method, redact(target), status, http.StatusText(status))
	if detail := graphErrorMessage(body); detail != "" {
		msg += ": " + detail
	}
	return apperrors.NewNetworkError(ErrHTTPStatus.Code, msg).
		SetRetryable(retryableStatus(status)).
		WithContext("status", strconv.Itoa(status))
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	e, ok := apperrors.As(err)
	if !ok || e.Code != ErrHTTPStatus.Code {
		return 0
	}
	code, _ := strconv.Atoi(e.Context["status"])
	return code
}

// graphErrorMessage extracts error.message from a Graph error body
func graphErrorMessage(body []byte) string {
	var ge struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &ge) != nil || ge.Error.Message == "" {
		return ""
	}
	if ge.Error.Code != "" {
		return ge.Error.Code + ": " + ge.Error.Message
	}
	return ge.Error.Message
}

// redact drops the query string, which holds the SAS token for storage URLs.
func redact(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}
