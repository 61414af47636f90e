package main

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

	"github.com/correomqtt/correo-core/internal/api"
	"github.com/correomqtt/correo-core/internal/auth"
	"github.com/correomqtt/correo-core/internal/infrastructure/config"
)

const (
	// cliTokenTTL bounds tokens minted for a single CLI invocation.
	cliTokenTTL = 5 * time.Minute

	cliSubject = "correo-cli"

	requestTimeout = 30 * time.Second
)

// apiClient calls the control API of a running daemon.
type apiClient struct {
	base  string
	token string
	http  *http.Client
}

// newAPIClient targets server, or the daemon address from cfg when server
// is empty. Without an explicit token one is minted from the configured
// secret.
func newAPIClient(cfg *config.Config, server, token string) (*apiClient, error) {
	if server == "" {
		scheme := "http"
		if cfg.API.TLS.Enabled {
			scheme = "https"
		}
		server = scheme + "://" + cfg.APIAddress()
	}
	if token == "" && cfg.AuthEnabled() {
		var err error
		token, _, err = auth.GenerateToken(cliSubject, cfg.Security.JWT.Secret, cliTokenTTL)
		if err != nil {
			return nil, fmt.Errorf("issuing token: %w", err)
		}
	}
	return &apiClient{
		base:  strings.TrimRight(server, "/") + "/api/v1",
		token: token,
		http:  &http.Client{},
	}, nil
}

// connectionPath builds /connections/{id}/<parts...> with escaped segments.
func connectionPath(id string, parts ...string) string {
	return "/connections/" + url.PathEscape(id) + "/" + strings.Join(parts, "/")
}

// newRequest builds an authorised request against the API.
func (c *apiClient) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// do sends a request and decodes a successful JSON answer into out.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var apiErr api.Error
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Message == "" {
		return fmt.Errorf("api returned %s", resp.Status)
	}
	return fmt.Errorf("api returned %d %s: %s", resp.StatusCode, apiErr.Code, apiErr.Message)
}

// errNoSecret is returned by commands that need security.jwt.secret.
var errNoSecret = errors.New("security.jwt.secret is not configured")
