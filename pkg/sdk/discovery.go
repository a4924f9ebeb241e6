package sdk

import (
	"context"
	"errors"
	"os"
)

// FromEnv builds a Client from CELERIX_BOARD_ADDR and CELERIX_BOARD_TOKEN.
// The address defaults to the local daemon.
func FromEnv() (*Client, error) {
	addr := os.Getenv("CELERIX_BOARD_ADDR")
	if addr == "" {
		addr = "localhost:7002"
	}
	token := os.Getenv("CELERIX_BOARD_TOKEN")
	if token == "" {
		return nil, errors.New("CELERIX_BOARD_TOKEN is not set")
	}
	return NewClient(addr, token), nil
}

// Dial opens a live Session to the same daemon with the same token.
func (c *Client) Dial(ctx context.Context) (*Session, error) {
	return Dial(ctx, c.baseURL, c.token)
}
