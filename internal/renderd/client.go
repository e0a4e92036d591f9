package renderd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
)

// ErrNotDone is returned when the daemon reports it could not render the tile.
var ErrNotDone = errors.New("renderd could not render tile")

// Client 渲染服务客户端, 每次请求单独建立连接
type Client struct {
	network string
	address string
	timeout time.Duration
	dialer  net.Dialer
	breaker *gobreaker.CircuitBreaker[Command]
	log     logrus.FieldLogger
}

// NewClient creates a client for ipcURI, either unix:///path/to/socket,
// tcp://host:port or a bare socket path.
func NewClient(ipcURI string, timeout time.Duration, log logrus.FieldLogger) (*Client, error) {
	network, address, err := parseIPCURI(ipcURI)
	if err != nil {
		return nil, err
	}
	c := &Client{
		network: network,
		address: address,
		timeout: timeout,
		log:     log.WithField("component", "renderd"),
	}
	c.breaker = gobreaker.NewCircuitBreaker[Command](gobreaker.Settings{
		Name:        "renderd",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotDone)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warnf("circuit breaker %s: %s -> %s", name, from, to)
		},
	})
	return c, nil
}

func parseIPCURI(ipcURI string) (string, string, error) {
	if ipcURI == "" {
		return "", "", errors.New("renderd ipc uri is empty")
	}
	u, err := url.Parse(ipcURI)
	if err != nil {
		return "", "", fmt.Errorf("parse renderd ipc uri %q: %w", ipcURI, err)
	}
	switch u.Scheme {
	case "":
		return "unix", ipcURI, nil
	case "unix":
		return "unix", u.Path, nil
	case "tcp":
		return "tcp", u.Host, nil
	default:
		return "", "", fmt.Errorf("unsupported renderd ipc scheme %q", u.Scheme)
	}
}

// Render sends req and waits for the daemon's answer, at most the configured
// render timeout.
func (c *Client) Render(ctx context.Context, req RenderRequest) (Command, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.breaker.Execute(func() (Command, error) {
		return c.roundTrip(ctx, req)
	})
}

func (c *Client) roundTrip(ctx context.Context, req RenderRequest) (Command, error) {
	payload, err := req.MarshalBinary()
	if err != nil {
		return CmdIgnore, err
	}
	size, err := ResponseSize(req.Version())
	if err != nil {
		return CmdIgnore, err
	}

	conn, err := c.dialer.DialContext(ctx, c.network, c.address)
	if err != nil {
		return CmdIgnore, fmt.Errorf("connect renderd %s: %w", c.address, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return CmdIgnore, err
		}
	}

	if _, err := conn.Write(payload); err != nil {
		return CmdIgnore, fmt.Errorf("send render request: %w", err)
	}
	reply := make([]byte, size)
	if _, err := io.ReadFull(conn, reply); err != nil {
		return CmdIgnore, fmt.Errorf("read render response: %w", err)
	}
	resp, err := UnmarshalResponse(reply)
	if err != nil {
		return CmdIgnore, err
	}
	c.log.Debugf("renderd answered %s for %s/%d/%d/%d", resp.Cmd, resp.XMLName, resp.Z, resp.X, resp.Y)
	if resp.Cmd == CmdNotDone {
		return resp.Cmd, ErrNotDone
	}
	return resp.Cmd, nil
}
