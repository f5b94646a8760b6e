package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	gws "github.com/gorilla/websocket"

	"github.com/riderlabs/go-rider/pkg/state"
)

const dialTimeout = 10 * time.Second

// WatchClient consumes the state stream of a running dashboard. It is
// the headless counterpart to the browser view, used by rider-watch.
type WatchClient struct {
	conn *gws.Conn
}

// DialState connects to a dashboard's state websocket. Addr is
// host:port of the dashboard server.
func DialState(ctx context.Context, addr string) (*WatchClient, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws/state"}

	dialer := gws.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dashboard: dial %s: %w", u.String(), err)
	}
	return &WatchClient{conn: conn}, nil
}

// Next blocks for the next state snapshot.
func (c *WatchClient) Next() (state.Snapshot, error) {
	var snap state.Snapshot
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return snap, fmt.Errorf("dashboard: read: %w", err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("dashboard: decode snapshot: %w", err)
	}
	return snap, nil
}

// Close shuts the connection down cleanly.
func (c *WatchClient) Close() error {
	deadline := time.Now().Add(time.Second)
	c.conn.WriteControl(gws.CloseMessage,
		gws.FormatCloseMessage(gws.CloseNormalClosure, ""), deadline)
	return c.conn.Close()
}
