// Package skinapi is a thin client for the remote skin analysis API.
//
// Every call is a single request/response: no retries, no caching. Errors are
// typed (ValidationError, AuthError, AnalysisError, RequestError,
// NetworkError) so callers can decide between showing a message inline and
// dropping the session.
package skinapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/raine/skinanalyze/internal/analysis"
	"github.com/raine/skinanalyze/internal/capture"
)

const (
	DefaultBaseURL = "http://localhost:8000"
	DefaultTimeout = 60 * time.Second

	// MinPasswordLength mirrors the registration form's constraint.
	MinPasswordLength = 6
)

type ClientOpts struct {
	BaseURL string
	Timeout time.Duration
}

type Client struct {
	httpClient *resty.Client
	baseURL    string
}

// LoginResponse is the body of a successful POST /login.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Username    string `json:"username"`
}

type historyResponse struct {
	History []analysis.HistoryRecord `json:"history"`
}

func NewClient(opts ClientOpts) *Client {
	c := Client{baseURL: DefaultBaseURL}
	if opts.BaseURL != "" {
		c.baseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	timeout := DefaultTimeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	c.httpClient = resty.New().
		SetDebug(false).
		SetBaseURL(c.baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &c
}

// BaseURL returns the API base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ImageURL resolves an image reference returned by the API (usually a path
// such as /static/annotated/1.jpg) against the base URL. Absolute URLs and
// data URLs are returned unchanged.
func (c *Client) ImageURL(ref string) string {
	if ref == "" {
		return ""
	}
	if strings.HasPrefix(ref, "data:") {
		return ref
	}
	if u, err := url.Parse(ref); err == nil && u.IsAbs() {
		return ref
	}
	if !strings.HasPrefix(ref, "/") {
		ref = "/" + ref
	}
	return c.baseURL + ref
}

func (c *Client) req(ctx context.Context, token string) *resty.Request {
	request := c.httpClient.NewRequest().SetContext(ctx)
	if token != "" {
		request.SetAuthToken(token)
	}
	return request
}

// Register creates an account. Input is validated locally before any request.
func (c *Client) Register(ctx context.Context, username, email, password string) error {
	if err := validateRegistration(username, email, password); err != nil {
		return err
	}

	res, err := c.req(ctx, "").
		SetBody(map[string]string{
			"username": username,
			"email":    email,
			"password": password,
		}).
		Post("/register")
	if err != nil {
		return &NetworkError{Op: "register", Err: err}
	}
	if res.IsError() {
		return &ValidationError{Detail: parseDetail(res.Body(), MsgRegisterFailed)}
	}

	log.Info().Str("username", username).Msg("registered account")
	return nil
}

func validateRegistration(username, email, password string) error {
	if strings.TrimSpace(username) == "" {
		return &ValidationError{Detail: "Username is required."}
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return &ValidationError{Detail: "Please enter a valid email address."}
	}
	if len(password) < MinPasswordLength {
		return &ValidationError{Detail: fmt.Sprintf("Password must be at least %d characters.", MinPasswordLength)}
	}
	return nil
}

// Login exchanges credentials for an access token.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResponse, error) {
	var result LoginResponse

	res, err := c.req(ctx, "").
		SetBody(map[string]string{
			"username": username,
			"password": password,
		}).
		SetResult(&result).
		Post("/login")
	if err != nil {
		return LoginResponse{}, &NetworkError{Op: "login", Err: err}
	}
	if res.IsError() {
		return LoginResponse{}, &AuthError{Status: res.StatusCode(), Detail: parseDetail(res.Body(), MsgLoginFailed)}
	}
	if result.AccessToken == "" {
		return LoginResponse{}, &AuthError{Status: res.StatusCode(), Detail: MsgLoginFailed}
	}
	if result.Username == "" {
		result.Username = username
	}

	return result, nil
}

// Analyze submits an image for analysis. The token is optional: anonymous
// analysis is allowed, and the result is only stored in history when a token
// is attached.
func (c *Client) Analyze(ctx context.Context, token string, img capture.Payload) (analysis.Result, error) {
	mimeType := img.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	name := img.SourceName
	if name == "" {
		name = "image"
	}

	res, err := c.req(ctx, token).
		SetMultipartField("file", name, mimeType, bytes.NewReader(img.Data)).
		Post("/api/analyze")
	if err != nil {
		return analysis.Result{}, &NetworkError{Op: "analyze", Err: err}
	}
	if res.IsError() {
		return analysis.Result{}, &AnalysisError{Status: res.StatusCode(), Detail: parseDetail(res.Body(), MsgAnalysisFailed)}
	}

	result, err := analysis.Decode(res.Body())
	if err != nil {
		log.Error().Err(err).Msg("analyze returned an unreadable body")
		return analysis.Result{}, &AnalysisError{Status: res.StatusCode(), Detail: MsgAnalysisFailed}
	}

	log.Info().
		Bool("authenticated", token != "").
		Float64("score", result.Score).
		Str("severity", string(result.Severity)).
		Msg("analysis complete")
	return result, nil
}

// ListHistory returns the user's past analyses, latest first. It requires a
// token; without one it fails with AuthError and makes no request.
func (c *Client) ListHistory(ctx context.Context, token string) ([]analysis.HistoryRecord, error) {
	if token == "" {
		return nil, &AuthError{Status: http.StatusUnauthorized, Detail: "Not logged in"}
	}

	res, err := c.req(ctx, token).Get("/api/history")
	if err != nil {
		return nil, &NetworkError{Op: "list history", Err: err}
	}
	if res.StatusCode() == http.StatusUnauthorized {
		return nil, &AuthError{Status: res.StatusCode(), Detail: parseDetail(res.Body(), "Session expired. Please log in again.")}
	}
	if res.IsError() {
		return nil, &RequestError{Status: res.StatusCode(), Detail: parseDetail(res.Body(), MsgHistoryFailed)}
	}

	var body historyResponse
	if err := json.Unmarshal(res.Body(), &body); err != nil {
		return nil, &RequestError{Status: res.StatusCode(), Detail: MsgHistoryFailed}
	}
	return body.History, nil
}

// DeleteHistory deletes one record. A non-2xx response other than 401 is a
// soft failure: false with a nil error.
func (c *Client) DeleteHistory(ctx context.Context, token string, id analysis.RecordID) (bool, error) {
	if token == "" {
		return false, &AuthError{Status: http.StatusUnauthorized, Detail: "Not logged in"}
	}

	res, err := c.req(ctx, token).
		SetPathParam("id", string(id)).
		Delete("/api/history/{id}")
	if err != nil {
		return false, &NetworkError{Op: "delete history", Err: err}
	}
	if res.StatusCode() == http.StatusUnauthorized {
		return false, &AuthError{Status: res.StatusCode(), Detail: parseDetail(res.Body(), "Session expired. Please log in again.")}
	}
	if res.IsError() {
		log.Warn().
			Str("id", string(id)).
			Int("status", res.StatusCode()).
			Str("detail", parseDetail(res.Body(), MsgDeleteFailed)).
			Msg("delete history failed")
		return false, nil
	}

	return true, nil
}
