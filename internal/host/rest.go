package host

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/genie-bridge/internal/entity"
)

// maxResponseSize caps REST response bodies at 8 MiB.
const maxResponseSize = 8 << 20

// RESTDescriptor is the decoded form of a scheme_host_port_token access token.
type RESTDescriptor struct {
	BaseURL    string // scheme://host:port/api/
	Token      string
	CheckAlias bool
}

// IsRESTToken reports whether token has the descriptor form.
func IsRESTToken(token string) bool {
	return strings.HasPrefix(token, "http")
}

// ParseRESTToken decodes "https_192.168.1.10_8123_<token>".
//
// Alias checking is switched on by ending the host part with an upper-case
// letter, e.g. "https_home.example.COM_8123_<token>".
func ParseRESTToken(token string) (RESTDescriptor, error) {
	if !IsRESTToken(token) {
		return RESTDescriptor{}, fmt.Errorf("%w: not a REST descriptor", ErrInvalidToken)
	}

	parts := strings.Split(token, "_")
	if len(parts) < 4 {
		return RESTDescriptor{}, fmt.Errorf("%w: expected scheme_host_port_token", ErrInvalidToken)
	}

	scheme, hostPart, port := parts[0], parts[1], parts[2]
	bearer := strings.Join(parts[3:], "_")

	if scheme != "http" && scheme != "https" {
		return RESTDescriptor{}, fmt.Errorf("%w: scheme %q", ErrInvalidToken, scheme)
	}
	if hostPart == "" || bearer == "" {
		return RESTDescriptor{}, fmt.Errorf("%w: empty host or token", ErrInvalidToken)
	}
	if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
		return RESTDescriptor{}, fmt.Errorf("%w: port %q", ErrInvalidToken, port)
	}

	last := hostPart[len(hostPart)-1]
	return RESTDescriptor{
		BaseURL:    scheme + "://" + hostPart + ":" + port + "/api/",
		Token:      bearer,
		CheckAlias: last >= 'A' && last <= 'Z',
	}, nil
}

// REST is a host reached over a Home-Assistant-compatible REST API.
type REST struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewREST creates a REST host. baseURL ends with /api/.
func NewREST(baseURL, token string, timeout time.Duration) *REST {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &REST{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// States fetches GET states.
func (r *REST) States(ctx context.Context) ([]entity.State, error) {
	var states []entity.State
	if err := r.do(ctx, "states", nil, &states); err != nil {
		return nil, fmt.Errorf("fetching states: %w", err)
	}
	return states, nil
}

// State fetches GET states/<entity_id>.
func (r *REST) State(ctx context.Context, entityID string) (*entity.State, error) {
	var s entity.State
	if err := r.do(ctx, "states/"+url.PathEscape(entityID), nil, &s); err != nil {
		return nil, fmt.Errorf("fetching state of %s: %w", entityID, err)
	}
	return &s, nil
}

// CallService posts to services/<domain>/<service>. Any 2xx answer counts
// as success.
func (r *REST) CallService(ctx context.Context, domain, service string, data map[string]any) (bool, error) {
	if data == nil {
		data = map[string]any{}
	}
	var changed []entity.State
	if err := r.do(ctx, "services/"+url.PathEscape(domain)+"/"+url.PathEscape(service), data, &changed); err != nil {
		return false, fmt.Errorf("calling %s.%s: %w", domain, service, err)
	}
	return true, nil
}

// do issues GET without a body and POST with one.
func (r *REST) do(ctx context.Context, path string, body any, out any) error {
	method := http.MethodGet
	var reader io.Reader
	if body != nil {
		method = http.MethodPost
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: creating request: %w", ErrRequestFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+r.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: reading response: %w", ErrRequestFailed, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: unauthorized", ErrInvalidToken)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%w: status %d", ErrRequestFailed, resp.StatusCode)
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: decoding response: %w", ErrRequestFailed, err)
	}
	return nil
}

// RESTConnector builds a REST host from the descriptor in each token.
type RESTConnector struct {
	timeout time.Duration
}

// NewRESTConnector creates a connector whose hosts use timeout per request.
func NewRESTConnector(timeout time.Duration) *RESTConnector {
	return &RESTConnector{timeout: timeout}
}

// Connect parses the token; no network traffic happens here.
func (c *RESTConnector) Connect(_ context.Context, token string) (Host, Options, error) {
	desc, err := ParseRESTToken(token)
	if err != nil {
		return nil, Options{}, err
	}
	return NewREST(desc.BaseURL, desc.Token, c.timeout), Options{CheckAlias: desc.CheckAlias}, nil
}
