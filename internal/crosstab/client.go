package crosstab

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type ClientOptions struct {
	Token  string
	Logger *slog.Logger
}

// RelayClient is one connection to a Relay. Publish may be called while Run
// is reading.
type RelayClient struct {
	conn   *websocket.Conn
	logger *slog.Logger
}

// DialRelay connects to a relay. url may use the http or ws schemes and may
// omit the /ws path.
func DialRelay(ctx context.Context, url string, opts ClientOptions) (*RelayClient, error) {
	target, err := socketURL(url)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	dialOpts := &websocket.DialOptions{}
	if opts.Token != "" {
		dialOpts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + opts.Token}}
	}
	conn, resp, err := websocket.Dial(ctx, target, dialOpts)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", target, err)
	}
	return &RelayClient{conn: conn, logger: logger}, nil
}

func (c *RelayClient) Publish(ctx context.Context, event Event) error {
	if c == nil {
		return nil
	}
	if err := event.Validate(); err != nil {
		return err
	}
	return wsjson.Write(ctx, c.conn, event)
}

// Run delivers relayed events to out until ctx is done or the connection
// closes.
func (c *RelayClient) Run(ctx context.Context, out chan<- Event) error {
	for {
		var event Event
		if err := wsjson.Read(ctx, c.conn, &event); err != nil {
			if ctx.Err() != nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return err
		}
		if err := event.Validate(); err != nil {
			c.logger.Warn("relay sent invalid event", "err", err)
			continue
		}
		select {
		case out <- event:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *RelayClient) Close() error {
	if c == nil {
		return nil
	}
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

func socketURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(raw, "http://"):
		raw = "ws://" + strings.TrimPrefix(raw, "http://")
	case strings.HasPrefix(raw, "https://"):
		raw = "wss://" + strings.TrimPrefix(raw, "https://")
	case strings.HasPrefix(raw, "ws://"), strings.HasPrefix(raw, "wss://"):
	default:
		return "", errors.New("relay url must use http, https, ws or wss")
	}
	if !strings.HasSuffix(raw, "/ws") {
		raw = strings.TrimSuffix(raw, "/") + "/ws"
	}
	return raw, nil
}
