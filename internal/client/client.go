// Package client talks to the progression API and implements the gamification backend
// and identity resolver on top of it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/koi/internal/gamification"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultRequestTimeout = 15 * time.Second
	maxErrorBodyBytes     = 4096
)

var (
	errMissingBaseURL = errors.New("client: base url required")
	errMissingToken   = errors.New("client: session token required")
)

// StatusError is a non-2xx answer from the API.
type StatusError struct {
	StatusCode int
	Code       string
}

func (e *StatusError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("client: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("client: unexpected status %d (%s)", e.StatusCode, e.Code)
}

// Config describes how to reach the API.
type Config struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Logger     *zap.Logger
}

// Client is an authenticated API client. The session token decides whose data is read,
// so identity arguments are only used for logging.
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *zap.Logger
}

// New validates cfg and builds a client.
func New(cfg Config) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if raw == "" {
		return nil, errMissingBaseURL
	}
	baseURL, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("client: parse base url: %w", err)
	}
	if baseURL.Scheme != "http" && baseURL.Scheme != "https" {
		return nil, fmt.Errorf("client: unsupported base url scheme %q", baseURL.Scheme)
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errMissingToken
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: httpClient,
		dialer:     dialer,
		logger:     logger,
	}, nil
}

type meResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

// CurrentIdentity resolves the token's identity. A rejected session maps to ErrNoIdentity.
func (c *Client) CurrentIdentity(ctx context.Context) (gamification.Identity, error) {
	var me meResponse
	if err := c.doJSON(ctx, http.MethodGet, "/me", nil, &me); err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusUnauthorized {
			return gamification.Identity{}, fmt.Errorf("%w: %v", gamification.ErrNoIdentity, err)
		}
		return gamification.Identity{}, err
	}
	if strings.TrimSpace(me.ID) == "" {
		return gamification.Identity{}, gamification.ErrNoIdentity
	}
	return gamification.Identity{ID: me.ID, DisplayName: me.DisplayName, AvatarURL: me.AvatarURL}, nil
}

// FetchProfile reads the profile row; a 404 maps to ErrProfileNotFound.
func (c *Client) FetchProfile(ctx context.Context, identityID string) (gamification.ProfileRecord, error) {
	var record gamification.ProfileRecord
	if err := c.doJSON(ctx, http.MethodGet, "/profile", nil, &record); err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return gamification.ProfileRecord{}, fmt.Errorf("%w: %s", gamification.ErrProfileNotFound, identityID)
		}
		return gamification.ProfileRecord{}, err
	}
	return record, nil
}

type badgesResponse struct {
	Badges []gamification.Badge `json:"badges"`
}

// FetchAwardedBadges lists the awarded badges, all marked unlocked.
func (c *Client) FetchAwardedBadges(ctx context.Context, _ string) ([]gamification.Badge, error) {
	var response badgesResponse
	if err := c.doJSON(ctx, http.MethodGet, "/profile/badges", nil, &response); err != nil {
		return nil, err
	}
	badges := make([]gamification.Badge, 0, len(response.Badges))
	for _, badge := range response.Badges {
		badge.Unlocked = true
		badges = append(badges, badge)
	}
	return badges, nil
}

// PerformCheckin invokes the check-in procedure.
func (c *Client) PerformCheckin(ctx context.Context, _ string) (gamification.CheckinResult, error) {
	var result gamification.CheckinResult
	if err := c.doJSON(ctx, http.MethodPost, "/checkin", nil, &result); err != nil {
		return gamification.CheckinResult{}, err
	}
	return result, nil
}

type checkinStatusResponse struct {
	CheckedInToday bool `json:"checked_in_today"`
}

// HasCheckedInToday reads today's check-in status.
func (c *Client) HasCheckedInToday(ctx context.Context, _ string) (bool, error) {
	var response checkinStatusResponse
	if err := c.doJSON(ctx, http.MethodGet, "/checkin/status", nil, &response); err != nil {
		return false, err
	}
	return response.CheckedInToday, nil
}

type actionRequest struct {
	Action string `json:"action"`
}

// ActionGrant is the server's answer to a recorded action.
type ActionGrant struct {
	Action        string                     `json:"action"`
	Amount        int64                      `json:"amount"`
	Bonus         int64                      `json:"bonus"`
	Profile       gamification.ProfileRecord `json:"profile"`
	AwardedBadges []string                   `json:"awarded_badges"`
}

// RecordAction asks the server to grant the reward of action.
func (c *Client) RecordAction(ctx context.Context, action string) (ActionGrant, error) {
	var grant ActionGrant
	if err := c.doJSON(ctx, http.MethodPost, "/actions", actionRequest{Action: action}, &grant); err != nil {
		return ActionGrant{}, err
	}
	return grant, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), reader)
	if err != nil {
		return fmt.Errorf("client: build %s %s: %w", method, path, err)
	}
	request.Header.Set("Authorization", "Bearer "+c.token)
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return decodeStatusError(response)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeStatusError(response *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
	_ = json.Unmarshal(raw, &payload)
	return &StatusError{StatusCode: response.StatusCode, Code: payload.Error}
}

func (c *Client) endpoint(path string) string {
	endpoint := *c.baseURL
	endpoint.Path = strings.TrimRight(endpoint.Path, "/") + path
	return endpoint.String()
}

func (c *Client) streamEndpoint(path string) string {
	endpoint := *c.baseURL
	endpoint.Path = strings.TrimRight(endpoint.Path, "/") + path
	if endpoint.Scheme == "https" {
		endpoint.Scheme = "wss"
	} else {
		endpoint.Scheme = "ws"
	}
	return endpoint.String()
}
