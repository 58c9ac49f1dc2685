package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/nicktill/campuspulse/pkg/authz"
)

// apiClient calls the campuspulse API as one user.
type apiClient struct {
	base  string
	http  *http.Client
	token string
}

func newAPIClient(base string, auth *authz.Authenticator, uid string) (*apiClient, error) {
	tok, err := auth.Issue(uid, 24*time.Hour)
	if err != nil {
		return nil, err
	}
	return &apiClient{
		base:  base,
		http:  &http.Client{Timeout: 10 * time.Second},
		token: tok,
	}, nil
}

// call sends body as JSON and decodes a 2xx response into out.
func (c *apiClient) call(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
