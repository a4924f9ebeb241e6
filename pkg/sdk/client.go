// Package sdk is the client library for the board daemon: a REST client for
// canvas management, a websocket Session for live editing, and Board, which
// ties a Session to a local history.
package sdk

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/celerix-dev/celerix-board/pkg/engine"
	"github.com/celerix-dev/celerix-board/pkg/schema"
)

const maxAttempts = 3

// Client talks to the REST surface of a board daemon.
// It implements the Boards interface.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for addr. An addr without a scheme uses plain
// http, matching the daemon default, unless CELERIX_BOARD_DISABLE_TLS is
// "false". Certificates are not verified since the daemon may serve a
// self-signed one.
func NewClient(addr, token string) *Client {
	return &Client{
		baseURL: baseURL(addr),
		token:   token,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
	}
}

func baseURL(addr string) string {
	addr = strings.TrimSuffix(strings.TrimSpace(addr), "/")
	if strings.Contains(addr, "://") {
		return addr
	}
	if os.Getenv("CELERIX_BOARD_DISABLE_TLS") == "false" {
		return "https://" + addr
	}
	return "http://" + addr
}

// BaseURL returns the resolved daemon URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do sends one request, retrying transport failures with backoff. out may be nil.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return err
		}
	}

	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(os.Stderr, "[Celerix Board SDK] Attempt %d failed: %v. Retrying...\n", i+1, err)
			time.Sleep(time.Duration((i+1)*200) * time.Millisecond)
			continue
		}
		return decodeResponse(resp, out)
	}
	return fmt.Errorf("failed after %d attempts. last error: %w", maxAttempts, lastErr)
}

func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string      `json:"error"`
			Code  engine.Kind `json:"code"`
		}
		_ = json.Unmarshal(body, &apiErr)
		kind := apiErr.Code
		if kind == "" {
			kind = kindForStatus(resp.StatusCode)
		}
		msg := apiErr.Error
		if msg == "" {
			msg = resp.Status
		}
		return engine.NewError(kind, msg)
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

func kindForStatus(status int) engine.Kind {
	switch status {
	case http.StatusUnauthorized:
		return engine.KindUnauthenticated
	case http.StatusForbidden:
		return engine.KindForbidden
	case http.StatusNotFound:
		return engine.KindNotFound
	case http.StatusBadRequest:
		return engine.KindValidation
	default:
		return engine.KindInternal
	}
}

func (c *Client) List(ctx context.Context) ([]*schema.Canvas, error) {
	var list []*schema.Canvas
	err := c.do(ctx, http.MethodGet, "/canvas/", nil, &list)
	return list, err
}

func (c *Client) Create(ctx context.Context, name string) (*schema.Canvas, error) {
	var out schema.Canvas
	if err := c.do(ctx, http.MethodPost, "/canvas/", map[string]string{"name": name}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Get(ctx context.Context, canvasID string) (*schema.Canvas, error) {
	var out schema.Canvas
	if err := c.do(ctx, http.MethodGet, "/canvas/"+canvasID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ReplaceElements(ctx context.Context, canvasID string, elements []schema.Element) (*schema.Canvas, error) {
	if elements == nil {
		elements = []schema.Element{}
	}
	var out schema.Canvas
	in := map[string][]schema.Element{"elements": elements}
	if err := c.do(ctx, http.MethodPut, "/canvas/"+canvasID, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Rename(ctx context.Context, canvasID, name string) (*schema.Canvas, error) {
	var out schema.Canvas
	if err := c.do(ctx, http.MethodPut, "/canvas/updateCanvasProfile/"+canvasID, map[string]string{"name": name}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Share(ctx context.Context, canvasID, email string) error {
	return c.do(ctx, http.MethodPut, "/canvas/share/"+canvasID, map[string]string{"sharedEmail": email}, nil)
}

func (c *Client) Delete(ctx context.Context, canvasID string) error {
	return c.do(ctx, http.MethodDelete, "/canvas/"+canvasID, nil, nil)
}

// IsKind reports whether err carries kind.
func IsKind(err error, kind engine.Kind) bool {
	var e *engine.Error
	return errors.As(err, &e) && e.Kind == kind
}
