package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

const dialTimeout = 2 * time.Second

// Client provides RPC access to the bridge.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the bridge at the given socket path.
func Dial(ctx context.Context, path string) (*Client, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// SocketReady reports whether the bridge can currently reach the backend.
func (c *Client) SocketReady(ctx context.Context) (*SocketReadyResponse, error) {
	var resp SocketReadyResponse
	if err := c.call(ctx, "SocketReady", SocketReadyRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Invoke forwards a command with JSON-encodable args.
func (c *Client) Invoke(ctx context.Context, command string, args any, requestID string) (*InvokeResponse, error) {
	req := InvokeRequest{Command: command, RequestID: requestID}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("encode %s args: %w", command, err)
		}
		req.Args = raw
	}
	var resp InvokeResponse
	if err := c.call(ctx, "Invoke", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) call(ctx context.Context, method string, args any, reply any) error {
	call := c.client.Go(ServiceName+"."+method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		// net/rpc has no cancellation; dropping the connection abandons the call.
		_ = c.Close()
		return ctx.Err()
	case done := <-call.Done:
		return done.Error
	}
}
