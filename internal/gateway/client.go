package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/romashorodok/conferencing-platform/pkg/protocol"
)

const (
	requestIDHeader = "X-Request-Id"
	maxResponseBody = 1 << 20
)

type Config struct {
	BaseURL     string
	BearerToken string
	// Cookies are attached to every call, together with whatever the backend sets.
	Cookies    []*http.Cookie
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the administrative backend. Every call is a "set" operation,
// so retrying with the same arguments does not double-apply.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
	logger  *slog.Logger
}

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, ErrEmptyBaseURL
	}
	baseURL, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, err
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		httpClient.Jar = jar
	}
	if len(cfg.Cookies) > 0 {
		httpClient.Jar.SetCookies(baseURL, cfg.Cookies)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL: baseURL,
		token:   cfg.BearerToken,
		http:    httpClient,
		logger:  logger,
	}, nil
}

func (c *Client) ApproveMic(ctx context.Context, roomID, target, operator string) error {
	return c.Control(ctx, protocol.AdminControlRequest{
		RoomName:         roomID,
		TargetIdentity:   target,
		OperatorIdentity: operator,
		Action:           protocol.AdminActionApproveMic,
	})
}

func (c *Client) KickFromMic(ctx context.Context, roomID, target, operator string) error {
	return c.Control(ctx, protocol.AdminControlRequest{
		RoomName:         roomID,
		TargetIdentity:   target,
		OperatorIdentity: operator,
		Action:           protocol.AdminActionKickFromMic,
	})
}

func (c *Client) MuteMic(ctx context.Context, roomID, target, operator string) error {
	return c.Control(ctx, protocol.AdminControlRequest{
		RoomName:         roomID,
		TargetIdentity:   target,
		OperatorIdentity: operator,
		Action:           protocol.AdminActionMuteMic,
	})
}

func (c *Client) UnmuteMic(ctx context.Context, roomID, target, operator string) error {
	return c.Control(ctx, protocol.AdminControlRequest{
		RoomName:         roomID,
		TargetIdentity:   target,
		OperatorIdentity: operator,
		Action:           protocol.AdminActionUnmuteMic,
	})
}

// SetMicDisabled blocks or unblocks mic requests of target.
func (c *Client) SetMicDisabled(ctx context.Context, roomID, target, operator string, disabled bool) error {
	action := protocol.AdminActionEnableMic
	if disabled {
		action = protocol.AdminActionDisableMic
	}
	return c.Control(ctx, protocol.AdminControlRequest{
		RoomName:         roomID,
		TargetIdentity:   target,
		OperatorIdentity: operator,
		Action:           action,
	})
}

// Control posts one participant control action.
func (c *Client) Control(ctx context.Context, req protocol.AdminControlRequest) error {
	if req.RoomName == "" || req.TargetIdentity == "" || req.OperatorIdentity == "" {
		return &AdminCallError{Operation: string(req.Action), Err: ErrEmptyField}
	}

	var resp protocol.AdminResponse
	if err := c.do(ctx, string(req.Action), http.MethodPost, protocol.AdminControlPath, nil, &req, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return &AdminCallError{Operation: string(req.Action), Status: http.StatusOK, Reason: resp.Error}
	}

	c.logger.Debug("admin action applied",
		slog.String("action", string(req.Action)),
		slog.String("room", req.RoomName),
		slog.String("target", req.TargetIdentity),
		slog.String("operator", req.OperatorIdentity),
	)
	return nil
}

// UpdateMaxMicSlots changes the replicated mic slot count of a room.
func (c *Client) UpdateMaxMicSlots(ctx context.Context, roomID, operator string, slots int) error {
	req := protocol.AdminSettingsRequest{
		RoomName:         roomID,
		OperatorIdentity: operator,
		MaxMicSlots:      slots,
	}

	var resp protocol.AdminResponse
	if err := c.do(ctx, "room_settings", http.MethodPost, protocol.AdminSettingsPath, nil, &req, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return &AdminCallError{Operation: "room_settings", Status: http.StatusOK, Reason: resp.Error}
	}
	return nil
}

// RoomInfo fetches the HTTP room snapshot.
func (c *Client) RoomInfo(ctx context.Context, roomID string) (*protocol.RoomInfo, error) {
	query := url.Values{"room_id": []string{roomID}}

	var resp protocol.RoomInfoResponse
	if err := c.do(ctx, "room_info", http.MethodGet, protocol.RoomInfoPath, query, nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success || resp.Data == nil {
		return nil, &AdminCallError{Operation: "room_info", Status: http.StatusOK, Reason: resp.Error}
	}
	return resp.Data, nil
}

func (c *Client) do(ctx context.Context, operation, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL.JoinPath(path)
	if query != nil {
		endpoint.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return &AdminCallError{Operation: operation, Err: err}
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return &AdminCallError{Operation: operation, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return &AdminCallError{Operation: operation, Err: err}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
	if err != nil {
		return &AdminCallError{Operation: operation, Status: res.StatusCode, Err: err}
	}

	decodeErr := json.Unmarshal(raw, out)
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		callErr := &AdminCallError{Operation: operation, Status: res.StatusCode}
		if decodeErr == nil {
			callErr.Reason = serverReason(out)
		}
		if callErr.Reason == "" {
			callErr.Err = fmt.Errorf("unexpected status %s", res.Status)
		}
		return callErr
	}
	if decodeErr != nil {
		return &AdminCallError{Operation: operation, Status: res.StatusCode, Err: decodeErr}
	}
	return nil
}

func serverReason(out any) string {
	switch resp := out.(type) {
	case *protocol.AdminResponse:
		return resp.Error
	case *protocol.RoomInfoResponse:
		return resp.Error
	}
	return ""
}
