package transport

import (
	"context"
	"net/url"
	"strings"

	"cyclemetry/internal/services"
)

// ResolveImage returns a displayable reference for a backend image: a data URL
// fetched through the bridge when it is ready, otherwise the HTTP image URL.
// Concurrent resolutions of the same filename share one lookup.
func (d *Dispatcher) ResolveImage(ctx context.Context, filename string) (string, error) {
	if strings.TrimSpace(filename) == "" {
		return "", services.Wrap(services.ErrValidation, "transport", "resolve image", "filename is required", nil)
	}
	v, err, _ := d.images.Do(filename, func() (any, error) {
		ctx := ensureRequestID(ctx)
		if d.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.timeout)
			defer cancel()
		}
		if !d.IPCReady(ctx) {
			return d.ImageURL(filename), nil
		}
		resp, err := d.invoke(ctx, d.ipc, OpImageData, Request{Filename: filename})
		if err != nil {
			return "", err
		}
		return string(resp.Body), nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// ImageURL returns the HTTP URL of a backend image.
func (d *Dispatcher) ImageURL(filename string) string {
	return d.imageBaseURL + "/images/" + url.PathEscape(filename)
}
