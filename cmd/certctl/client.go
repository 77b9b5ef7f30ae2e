package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type clientOptions struct {
	BaseURL  string
	Address  string
	Roles    string
	Token    string
	AdminKey string
	Timeout  time.Duration
}

type client struct {
	opts clientOptions
	http *http.Client
}

type apiError struct {
	Kind    string `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type envelope struct {
	OK    bool            `json:"ok"`
	Value json.RawMessage `json:"value"`
	Error *apiError       `json:"error"`
}

func newClient(opts clientOptions) *client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &client{opts: opts, http: &http.Client{Timeout: opts.Timeout}}
}

// call sends one request and prints the envelope value as indented JSON. A
// failed envelope is returned as an *apiError.
func (c *client) call(ctx context.Context, out io.Writer, method, path string, body any) error {
	value, err := c.fetch(ctx, method, path, body)
	if err != nil {
		return err
	}
	return writeJSON(out, value)
}

// fetch sends one request and returns the raw envelope value.
func (c *client) fetch(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.opts.BaseURL, "/")+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.Address != "" {
		req.Header.Set("X-Requester-Address", c.opts.Address)
	}
	if c.opts.Roles != "" {
		req.Header.Set("X-Requester-Roles", c.opts.Roles)
	}
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	if c.opts.AdminKey != "" {
		req.Header.Set("X-Admin-Key", c.opts.AdminKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if !env.OK {
		if env.Error == nil {
			return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
		}
		return nil, env.Error
	}
	return env.Value, nil
}

func writeJSON(out io.Writer, value []byte) error {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, value, "", "  "); err != nil {
		return err
	}
	pretty.WriteByte('\n')
	_, err := out.Write(pretty.Bytes())
	return err
}

func escape(segment string) string {
	return url.PathEscape(segment)
}
