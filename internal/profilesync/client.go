// Package profilesync pushes staged profile details to the account service once an account is verified.
package profilesync

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultTimeout  = 15 * time.Second
	editDetailsPath = "/v1/edit/details"
	maxErrorBody    = 1 << 10
)

// ErrRejected is returned when the account service answers with anything but 200 or 201.
var ErrRejected = errors.New("profile sync rejected")

// Details is the profile payload accepted by the account service.
type Details struct {
	FullName    string `json:"fullname"`
	Tagline     string `json:"tagline"`
	PhoneNumber string `json:"phone_number"`
}

// Credentials are the freshly minted session credentials the account service authenticates with.
type Credentials struct {
	AccessToken string
	RefreshID   string
}

// Syncer sends profile details downstream.
type Syncer interface {
	Sync(ctx context.Context, creds Credentials, d Details) error
}

// Client is the HTTP implementation of Syncer.
type Client struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient returns a client for the account service at baseURL. Requests are traced with otelhttp.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		APIKey:  apiKey,
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Sync PATCHes d to the account service. Only 200 and 201 count as success.
func (c *Client) Sync(ctx context.Context, creds Credentials, d Details) error {
	if c.BaseURL == "" {
		return fmt.Errorf("profilesync: base URL not configured")
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.BaseURL+editDetailsPath, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	req.Header.Set("Refresh-Token", creds.RefreshID)
	req.Header.Set("Api-Key", base64.StdEncoding.EncodeToString([]byte(c.APIKey)))
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("profilesync: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: status=%d body=%s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
