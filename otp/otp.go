/*
Package otp is the HTTP client for the external phone-verification
collaborator.

PURPOSE:
  Account creation and login both require proving control of a phone
  number. The verification service is an external collaborator: this
  package sends it a structured request and interprets its structured
  response; code generation and delivery are entirely its business.

CONTRACT:
  POST {base}/auth/create_otp  {"phoneNumber": "..."}
  POST {base}/auth/verify_otp  {"phoneNumber": "...", "otp": "..."}

  A verify response with success=false means the code was wrong or
  expired. HTTP 429 means the number is being rate limited; the error
  carries the Retry-After hint when the service sends one.

SEE ALSO:
  - api/handlers.go: onboarding and login flows built on this client
*/
package otp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrInvalidCode is returned when the service rejects the submitted code.
var ErrInvalidCode = errors.New("otp: invalid or expired code")

// RateLimitedError is returned on HTTP 429 from the service.
type RateLimitedError struct {
	RetryAfter time.Duration // zero when the service gave no hint
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("otp: rate limited, retry after %s", e.RetryAfter)
	}
	return "otp: rate limited"
}

// Client talks to the verification service.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// RequestCode asks the service to send a verification code to a phone
// number.
func (c *Client) RequestCode(ctx context.Context, phone string) error {
	_, err := c.post(ctx, "/auth/create_otp", map[string]string{
		"phoneNumber": phone,
	})
	return err
}

// VerifyCode checks a submitted code for a phone number. A wrong or
// expired code fails with ErrInvalidCode.
func (c *Client) VerifyCode(ctx context.Context, phone, code string) error {
	resp, err := c.post(ctx, "/auth/verify_otp", map[string]string{
		"phoneNumber": phone,
		"otp":         code,
	})
	if err != nil {
		return err
	}
	if !resp.Success {
		return ErrInvalidCode
	}
	return nil
}

type serviceResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (c *Client) post(ctx context.Context, path string, payload any) (*serviceResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("otp: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("otp: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("otp: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitedError{RetryAfter: retryAfter(res)}
	}

	var out serviceResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("otp: decode response: %w", err)
	}

	if res.StatusCode >= 400 {
		if out.Message != "" {
			return nil, fmt.Errorf("otp: service error: %s", out.Message)
		}
		return nil, fmt.Errorf("otp: service returned %d", res.StatusCode)
	}
	return &out, nil
}

func retryAfter(res *http.Response) time.Duration {
	header := res.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
