package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"golang.org/x/time/rate"

	m "tagfiler.dev/pkg/outbox/internal/model"
)

const (
	defaultCatalogTimeout = 30 * time.Second
	maxErrorBody          = 4096
)

// ErrNotLoggedIn is returned when a request is made before Login.
var ErrNotLoggedIn = errors.New("catalog session not open")

// MalformedURLError reports an unusable catalog URL.
type MalformedURLError struct {
	URL string
	Err error
}

func (e *MalformedURLError) Error() string {
	return fmt.Sprintf("malformed catalog url %q: %v", e.URL, e.Err)
}

func (e *MalformedURLError) Unwrap() error { return e.Err }

// UnresolvedAddressError reports a catalog host name that does not resolve.
type UnresolvedAddressError struct {
	Host string
	Err  error
}

func (e *UnresolvedAddressError) Error() string {
	return fmt.Sprintf("unresolved catalog address %q: %v", e.Host, e.Err)
}

func (e *UnresolvedAddressError) Unwrap() error { return e.Err }

// NetworkError reports a transport failure talking to the catalog.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("catalog network failure: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ProtocolError reports an unexpected HTTP status from the catalog.
type ProtocolError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("catalog %s %s: status %d: %s", e.Method, e.URL, e.Status, e.Body)
}

// NotFoundError reports a catalog resource that does not exist.
type NotFoundError struct {
	URL string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("catalog resource not found: %s", e.URL)
}

// HTTPClient executes HTTP requests. *http.Client implements it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// CatalogConfig configures the catalog client.
type CatalogConfig struct {
	URL      string
	Username string
	Password string
	// Token, when set, is sent as a bearer token instead of logging in.
	Token   string
	Timeout time.Duration
	// RateLimit caps requests per second; zero means unlimited.
	RateLimit float64
}

// Subject is a catalog entry as returned by a lookup.
type Subject map[string]any

// CatalogClient talks to the remote tagging catalog.
type CatalogClient interface {
	Login(ctx context.Context) error
	AddSubjects(ctx context.Context, subjects []m.TagSet) error
	FindSubjectByName(ctx context.Context, name string) (Subject, error)
	Close() error
}

type catalogClient struct {
	cfg     CatalogConfig
	base    *url.URL
	http    HTTPClient
	limiter *rate.Limiter

	authHeader string
	authValue  string
}

// NewCatalogClient validates cfg and builds a client. A nil httpClient uses
// an *http.Client with the configured timeout.
func NewCatalogClient(cfg CatalogConfig, httpClient HTTPClient) (CatalogClient, error) {
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, &MalformedURLError{URL: cfg.URL, Err: err}
	}

	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, &MalformedURLError{URL: cfg.URL, Err: fmt.Errorf("unsupported scheme %q", base.Scheme)}
	}

	if base.Hostname() == "" {
		return nil, &MalformedURLError{URL: cfg.URL, Err: errors.New("hostname cannot be empty")}
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCatalogTimeout
	}

	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: cfg.Timeout,
			// The login response carries the session cookie; do not chase it.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	return &catalogClient{
		cfg:     cfg,
		base:    base,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, 1),
	}, nil
}

// Login opens a session. With a token no request is made.
func (c *catalogClient) Login(ctx context.Context) error {
	if c.cfg.Token != "" {
		c.authHeader = "Authorization"
		c.authValue = "Bearer " + c.cfg.Token

		return nil
	}

	form := url.Values{}
	form.Set("username", c.cfg.Username)
	form.Set("password", c.cfg.Password)

	headers := map[string]string{"Content-Type": "application/x-www-form-urlencoded"}

	resp, err := c.send(ctx, http.MethodPost, c.endpoint("/session"), strings.NewReader(form.Encode()), headers)
	if err != nil {
		slog.Error("Failed to log in to catalog", "url", c.base.String(), "user", c.cfg.Username, "error", err)
		return err
	}

	c.authHeader = "Cookie"
	c.authValue = sessionCookie(resp.Response)

	slog.Debug("Opened catalog session", "url", c.base.String(), "user", c.cfg.Username)

	return nil
}

// sessionCookie turns Set-Cookie headers into a Cookie header value.
func sessionCookie(resp *http.Response) string {
	cookies := resp.Cookies()
	parts := make([]string, 0, len(cookies))

	for _, cookie := range cookies {
		parts = append(parts, cookie.Name+"="+cookie.Value)
	}

	return strings.Join(parts, "; ")
}

// AddSubjects registers every subject in a single bulk request.
func (c *catalogClient) AddSubjects(ctx context.Context, subjects []m.TagSet) error {
	if c.authHeader == "" {
		return ErrNotLoggedIn
	}

	if len(subjects) == 0 {
		return nil
	}

	var names []string

	for _, subject := range subjects {
		for _, name := range subject.Names() {
			if name != m.IdentityTag && !slices.Contains(names, name) {
				names = append(names, name)
			}
		}
	}

	slices.Sort(names)

	escaped := make([]string, 0, len(names))
	for _, name := range names {
		escaped = append(escaped, quote(name))
	}

	payload, err := json.Marshal(subjects)
	if err != nil {
		return fmt.Errorf("encode subjects: %w", err)
	}

	target := c.endpoint("/subject/name(" + strings.Join(escaped, ";") + ")")
	headers := map[string]string{"Content-Type": "application/json"}

	if _, err := c.send(ctx, http.MethodPut, target, bytes.NewReader(payload), headers); err != nil {
		slog.Error("Failed to register subjects", "count", len(subjects), "error", err)
		return err
	}

	slog.Debug("Registered subjects", "count", len(subjects), "tags", names)

	return nil
}

// FindSubjectByName looks up the subject whose name tag equals name.
func (c *catalogClient) FindSubjectByName(ctx context.Context, name string) (Subject, error) {
	if c.authHeader == "" {
		return nil, ErrNotLoggedIn
	}

	target := c.endpoint("/tags/name=" + quote(name))
	headers := map[string]string{"Accept": "application/json"}

	resp, err := c.send(ctx, http.MethodGet, target, nil, headers)
	if err != nil {
		return nil, err
	}

	var subjects []Subject
	if err := json.Unmarshal(resp.body, &subjects); err != nil {
		return nil, &ProtocolError{Method: http.MethodGet, URL: target, Status: resp.StatusCode, Body: "invalid json: " + err.Error()}
	}

	if len(subjects) == 0 {
		return nil, &NotFoundError{URL: target}
	}

	return subjects[0], nil
}

// Close drops the session.
func (c *catalogClient) Close() error {
	c.authHeader = ""
	c.authValue = ""

	if hc, ok := c.http.(*http.Client); ok {
		hc.CloseIdleConnections()
	}

	return nil
}

func (c *catalogClient) endpoint(path string) string {
	return c.base.String() + path
}

type catalogResponse struct {
	*http.Response
	body []byte
}

func (c *catalogClient) send(ctx context.Context, method, target string, body io.Reader, headers map[string]string) (*catalogResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("catalog rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, &MalformedURLError{URL: target, Err: err}
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	if c.authHeader != "" {
		req.Header.Set(c.authHeader, c.authValue)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportError(req.URL.Hostname(), err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusNoContent, http.StatusSeeOther:
		return &catalogResponse{Response: resp, body: data}, nil
	case http.StatusNotFound:
		return nil, &NotFoundError{URL: target}
	default:
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}

		return nil, &ProtocolError{Method: method, URL: target, Status: resp.StatusCode, Body: string(data)}
	}
}

func classifyTransportError(host string, err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &UnresolvedAddressError{Host: host, Err: err}
	}

	return &NetworkError{Err: err}
}

// quote percent-encodes every byte outside the unreserved set.
func quote(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
