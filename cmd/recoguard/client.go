package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/recoguard/recoguard/internal/pkg/errors"
)

const defaultTimeout = 10 * time.Second

// apiClient reads the recoguard HTTP API.
type apiClient struct {
	base string
	http *http.Client
}

func newClient(cmd *cobra.Command) (*apiClient, error) {
	server, _ := cmd.Flags().GetString("server")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	u, err := url.Parse(server)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", server)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &apiClient{
		base: strings.TrimRight(server, "/"),
		http: &http.Client{Timeout: timeout},
	}, nil
}

// envelope mirrors the server's data/meta response wrapper.
type envelope[T any] struct {
	Data T `json:"data"`
	Meta struct {
		RequestID string `json:"request_id"`
		Timestamp string `json:"timestamp"`
	} `json:"meta"`
}

// get fetches path with query and decodes the envelope's data into out.
func get[T any](ctx context.Context, c *apiClient, path string, query url.Values) (T, error) {
	var zero T
	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return zero, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return zero, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return zero, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return zero, decodeError(resp.StatusCode, body)
	}

	var env envelope[T]
	if err := json.Unmarshal(body, &env); err != nil {
		return zero, fmt.Errorf("decoding response: %w", err)
	}
	return env.Data, nil
}

func decodeError(status int, body []byte) error {
	var er errors.ErrorResponse
	if err := json.Unmarshal(body, &er); err != nil || er.Code == "" {
		return fmt.Errorf("server returned %d: %s", status, strings.TrimSpace(string(body)))
	}
	msg := er.Message
	if msg == "" {
		msg = er.Error
	}
	return fmt.Errorf("server returned %d (%s): %s", status, er.Code, msg)
}

// printJSON writes v indented when --format=json is set and reports whether
// it did.
func printJSON(cmd *cobra.Command, v any) (bool, error) {
	format, _ := cmd.Flags().GetString("format")
	switch format {
	case "json":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return true, err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return true, err
	case "text", "":
		return false, nil
	default:
		return true, fmt.Errorf("unknown format %q (want text or json)", format)
	}
}
