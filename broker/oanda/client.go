// Package oanda implements broker.Gateway against the OANDA v20 REST API.
package oanda

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

	"github.com/rustyeddy/autotrader/broker"
)

const (
	// PracticeURL is the URL for OANDA's practice/demo environment
	PracticeURL = "https://api-fxpractice.oanda.com"
	// LiveURL is the URL for OANDA's live trading environment
	LiveURL = "https://api-fxtrade.oanda.com"
)

// Client is a v20 REST client bound to one account.
type Client struct {
	baseURL    string
	token      string
	accountID  string
	httpClient *http.Client
}

var _ broker.Gateway = (*Client)(nil)
var _ broker.CandleSource = (*Client)(nil)

// NewClient creates a client for the practice or live environment. A
// non-empty baseURL overrides both.
func NewClient(token, accountID string, practice bool, baseURL string) *Client {
	if baseURL == "" {
		baseURL = LiveURL
		if practice {
			baseURL = PracticeURL
		}
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		token:     token,
		accountID: accountID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError is the v20 error body.
type apiError struct {
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`

	OrderRejectTransaction *struct {
		RejectReason string `json:"rejectReason"`
	} `json:"orderRejectTransaction,omitempty"`
}

func (c *Client) accountPath(format string, args ...any) string {
	return "/v3/accounts/" + url.PathEscape(c.accountID) + fmt.Sprintf(format, args...)
}

// do sends a request and decodes a 2xx JSON body into out. Failures are
// classified into the broker error taxonomy. Writes are ambiguous when the
// request may have been processed.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	write := method != http.MethodGet

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		rdr = bytes.NewReader(b)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept-Datetime-Format", "RFC3339")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return &broker.TransientError{Op: op, Err: err, Ambiguous: write}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &broker.TransientError{Op: op, Err: fmt.Errorf("read body: %w", err), Ambiguous: write}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("%s: decode response: %w", op, err)
		}
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &broker.TransientError{Op: op, Err: fmt.Errorf("http %d", resp.StatusCode)}
	case resp.StatusCode >= 500:
		return &broker.TransientError{Op: op, Err: fmt.Errorf("http %d: %s", resp.StatusCode, trimForErr(data)), Ambiguous: write}
	case resp.StatusCode == http.StatusNotFound && !write:
		return fmt.Errorf("%s: %w", op, broker.ErrTradeNotFound)
	}

	var ae apiError
	_ = json.Unmarshal(data, &ae)
	reason := ae.ErrorCode
	if ae.OrderRejectTransaction != nil && ae.OrderRejectTransaction.RejectReason != "" {
		reason = ae.OrderRejectTransaction.RejectReason
	}
	if reason == "" {
		reason = fmt.Sprintf("http_%d", resp.StatusCode)
	}
	msg := ae.ErrorMessage
	if msg == "" {
		msg = trimForErr(data)
	}
	return &broker.TerminalError{Op: op, Reason: reason, Err: errors.New(msg)}
}

func trimForErr(b []byte) string {
	const n = 200
	s := strings.TrimSpace(string(b))
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// parseFloat reads v20 decimal strings. Empty means zero.
func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// formatPrice renders a price at the instrument's display precision.
func formatPrice(p float64, precision int) string {
	if precision <= 0 {
		precision = 5
	}
	return strconv.FormatFloat(p, 'f', precision, 64)
}
