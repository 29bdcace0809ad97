package transport

import (
	"context"
	"fmt"
	"strings"

	"cyclemetry/internal/ipc"
	"cyclemetry/internal/services"
)

// ChannelIPC is the name reported by the bridge channel.
const ChannelIPC = "ipc"

// IPCChannel calls the backend through the desktop-shell bridge. Each call dials
// the bridge socket so a restarted shell is picked up without reconnect logic.
type IPCChannel struct {
	socket string
}

// NewIPCChannel returns a channel for the bridge at socket.
func NewIPCChannel(socket string) *IPCChannel {
	return &IPCChannel{socket: socket}
}

// Name implements Channel.
func (c *IPCChannel) Name() string { return ChannelIPC }

// Socket returns the bridge socket path.
func (c *IPCChannel) Socket() string { return c.socket }

// Ready asks the bridge whether the backend socket exists. A missing bridge is
// reported as an error.
func (c *IPCChannel) Ready(ctx context.Context) (bool, error) {
	client, err := ipc.Dial(ctx, c.socket)
	if err != nil {
		return false, err
	}
	defer client.Close()
	resp, err := client.SocketReady(ctx)
	if err != nil {
		return false, err
	}
	return resp.Ready, nil
}

// Call implements Channel.
func (c *IPCChannel) Call(ctx context.Context, op Operation, req Request) (*Response, error) {
	r, ok := routes[op]
	if !ok {
		return nil, fmt.Errorf("unknown operation %q", op)
	}
	var args any
	switch {
	case req.Upload != nil:
		args = ipc.UploadArgs{Filename: req.Upload.Filename, Data: req.Upload.Data}
	case r.file:
		if strings.TrimSpace(req.Filename) == "" {
			return nil, fmt.Errorf("%s: filename is required", op)
		}
		args = ipc.FileArgs{Filename: req.Filename}
	default:
		args = req.Body
	}

	client, err := ipc.Dial(ctx, c.socket)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	requestID, _ := services.RequestIDFromContext(ctx)
	resp, err := client.Invoke(ctx, r.command, args, requestID)
	if err != nil {
		return nil, err
	}
	return &Response{
		Channel:     ChannelIPC,
		Status:      resp.Status,
		ContentType: resp.ContentType,
		Body:        []byte(resp.Body),
	}, nil
}
