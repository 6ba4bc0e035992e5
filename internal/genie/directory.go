package genie

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrDirectory wraps failures fetching the place or alias list.
var ErrDirectory = errors.New("genie: directory request failed")

// Directory supplies the platform's place names and device aliases.
type Directory interface {
	Places(ctx context.Context) ([]string, error)
	Aliases(ctx context.Context) ([]Alias, error)
}

// extraAlias is appended to every alias list; the platform list lacks it.
var extraAlias = Alias{Key: "电视", Value: []string{"电视机"}}

// HTTPDirectory fetches both lists from the platform on every call.
type HTTPDirectory struct {
	placeListURL string
	aliasListURL string
	httpClient   *http.Client
}

// NewHTTPDirectory creates a directory client.
func NewHTTPDirectory(placeListURL, aliasListURL string, timeout time.Duration) *HTTPDirectory {
	return &HTTPDirectory{
		placeListURL: placeListURL,
		aliasListURL: aliasListURL,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

// Places returns the platform place names.
func (d *HTTPDirectory) Places(ctx context.Context) ([]string, error) {
	var places []string
	if err := d.fetch(ctx, d.placeListURL, &places); err != nil {
		return nil, fmt.Errorf("fetching place list: %w", err)
	}
	return places, nil
}

// Aliases returns the platform alias list plus the TV alias.
func (d *HTTPDirectory) Aliases(ctx context.Context) ([]Alias, error) {
	var aliases []Alias
	if err := d.fetch(ctx, d.aliasListURL, &aliases); err != nil {
		return nil, fmt.Errorf("fetching alias list: %w", err)
	}
	return append(aliases, extraAlias), nil
}

// fetch decodes the data field of {"data": ...}.
func (d *HTTPDirectory) fetch(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDirectory, err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDirectory, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrDirectory, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDirectory, err)
	}

	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("%w: %w", ErrDirectory, err)
	}
	if len(envelope.Data) == 0 {
		return fmt.Errorf("%w: missing data", ErrDirectory)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("%w: %w", ErrDirectory, err)
	}
	return nil
}

// StaticDirectory serves fixed lists; used for offline installs and tests.
type StaticDirectory struct {
	PlaceList []string
	AliasList []Alias
}

// Places returns the fixed place list.
func (d StaticDirectory) Places(context.Context) ([]string, error) { return d.PlaceList, nil }

// Aliases returns the fixed alias list plus the TV alias.
func (d StaticDirectory) Aliases(context.Context) ([]Alias, error) {
	return append(append([]Alias(nil), d.AliasList...), extraAlias), nil
}
