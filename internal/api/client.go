package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultTimeout = 15 * time.Second

type ClientOpts struct {
	BaseURL string
	// Timeout bounds every request so an unresponsive backend surfaces as a
	// network error instead of hanging callers. Zero means the default.
	Timeout time.Duration
}

// Client talks to the auth backend. It carries no credential state of its
// own; authenticated calls take the access token explicitly.
type Client struct {
	httpClient *resty.Client
	baseURL    string
}

func NewClient(opts ClientOpts) *Client {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	c := Client{baseURL: opts.BaseURL}
	c.httpClient = resty.New().
		SetBaseURL(c.baseURL).
		SetTimeout(timeout).
		SetHeaders(map[string]string{
			"Accept":       "application/json",
			"Content-Type": "application/json",
		})

	return &c
}

func (c *Client) req(ctx context.Context, accessToken string, result any) *resty.Request {
	request := c.httpClient.
		NewRequest().
		SetContext(ctx)

	if accessToken != "" {
		request.SetHeader("Authorization", "Bearer "+accessToken)
	}
	if result != nil {
		request.SetResult(result)
	}

	return request
}

// Do executes an arbitrary request against the backend. It is the generic
// entry point the request gateway routes authenticated calls through; the
// typed methods below cover the fixed auth endpoints.
func (c *Client) Do(ctx context.Context, method, path, accessToken string, body, result any) error {
	request := c.req(ctx, accessToken, result)
	if body != nil {
		request.SetBody(body)
	}
	_, err := handleError(request.Execute(method, path))
	return err
}

// Login exchanges credentials for a token pair and basic profile fields.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	result := &AuthResponse{}
	_, err := handleError(c.req(ctx, "", result).
		SetBody(req).
		Post("/api/auth/login"))
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Register creates a new account and returns the same shape as Login.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	result := &AuthResponse{}
	_, err := handleError(c.req(ctx, "", result).
		SetBody(req).
		Post("/api/auth/register"))
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Refresh exchanges a refresh token for a new token pair. It deliberately
// bypasses bearer attachment: the refresh token travels in the body.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	result := &AuthResponse{}
	_, err := handleError(c.req(ctx, "", result).
		SetBody(RefreshRequest{RefreshToken: refreshToken}).
		Post("/api/auth/refresh"))
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Logout notifies the backend that the session ends. The response body is
// ignored; callers treat failures as non-fatal.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	_, err := handleError(c.req(ctx, accessToken, nil).
		Post("/api/auth/logout"))
	return err
}

// Ping is the lightweight authenticated heartbeat used to extend a session.
func (c *Client) Ping(ctx context.Context, accessToken string) error {
	_, err := handleError(c.req(ctx, accessToken, nil).
		Post("/api/auth/ping"))
	return err
}

// Me fetches the signed-in user's profile.
func (c *Client) Me(ctx context.Context, accessToken string) (*User, error) {
	result := &User{}
	_, err := handleError(c.req(ctx, accessToken, result).
		Get("/api/users/me"))
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateMe applies a partial profile update and returns the updated profile.
func (c *Client) UpdateMe(ctx context.Context, accessToken string, update UserUpdate) (*User, error) {
	result := &User{}
	_, err := handleError(c.req(ctx, accessToken, result).
		SetBody(update).
		Put("/api/users/me"))
	if err != nil {
		return nil, err
	}
	return result, nil
}

// handleError maps a resty response onto the error taxonomy: transport
// failures become NetworkError, 401 becomes AuthError, any other non-2xx
// becomes ServerError with a best-effort message from the body.
func handleError(res *resty.Response, err error) (*resty.Response, error) {
	if err != nil {
		return res, &NetworkError{Err: err}
	}
	if res.IsError() {
		msg := extractMessage(res.Body())
		if res.StatusCode() == http.StatusUnauthorized {
			return res, &AuthError{Message: msg}
		}
		return res, &ServerError{StatusCode: res.StatusCode(), Message: msg}
	}

	return res, nil
}

func extractMessage(body []byte) string {
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		return ""
	}
	if errResp.Message != "" {
		return errResp.Message
	}
	return errResp.Error
}
