package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is a live socket. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	Close() error
}

// Dialer opens a new socket.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DefaultHandshakeTimeout bounds the websocket upgrade.
const DefaultHandshakeTimeout = 10 * time.Second

// WebsocketDialer dials the messaging socket with a bearer token.
type WebsocketDialer struct {
	URL              string
	Token            string
	HandshakeTimeout time.Duration
}

// SocketURL derives the socket endpoint from an API base URL.
func SocketURL(apiURL string) string {
	u := strings.TrimRight(apiURL, "/")
	u = strings.Replace(u, "http://", "ws://", 1)
	u = strings.Replace(u, "https://", "wss://", 1)
	return u + "/ws"
}

// Dial implements Dialer.
func (d WebsocketDialer) Dial(ctx context.Context) (Conn, error) {
	endpoint := d.URL
	endpoint = strings.Replace(endpoint, "http://", "ws://", 1)
	endpoint = strings.Replace(endpoint, "https://", "wss://", 1)

	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse socket url: %w", err)
	}

	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: timeout,
		Proxy:            http.ProxyFromEnvironment,
	}

	header := http.Header{}
	if d.Token != "" {
		header.Set("Authorization", "Bearer "+d.Token)
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket connect: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("websocket connect: %w", err)
	}
	return conn, nil
}
