package client

import (
	"context"
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

var ErrEmptyFrame = errors.New("response body is empty")

// Capture downloads a single JPEG from the capture endpoint.
func (c *ESP32Client) Capture(ctx context.Context) ([]byte, error) {
	return c.Frame(ctx, c.Endpoints.Capture)
}

// Frame downloads one still image from src, which is normally the capture
// URL with a cache-busting parameter appended.
func (c *ESP32Client) Frame(ctx context.Context, src string) ([]byte, error) {
	resp, err := c.HTTP.R().
		SetContext(ctx).
		SetHeader("Cache-Control", "no-cache").
		Get(src)

	if err != nil {
		return nil, errors.Wrap(err, "capture request failed")
	}

	if resp.IsError() {
		return nil, &StatusError{Op: "capture", Code: resp.StatusCode()}
	}

	if len(resp.Body()) == 0 {
		return nil, ErrEmptyFrame
	}

	// The firmware sends image/jpeg; relays occasionally rewrite it, so the
	// status code is trusted over the content type.
	c.log.Debugw("frame received", "content_type", resp.Header().Get("Content-Type"), "bytes", len(resp.Body()))

	return resp.Body(), nil
}

// OpenStream starts the long-lived multipart MJPEG request. The caller owns
// the returned response and must close its body; cancelling ctx ends it.
func (c *ESP32Client) OpenStream(ctx context.Context) (*http.Response, error) {
	resp, err := c.stream.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(c.Endpoints.Stream)

	if err != nil {
		return nil, errors.Wrap(err, "stream request failed")
	}

	raw := resp.RawResponse
	if resp.IsError() {
		closeRaw(resp)
		return nil, &StatusError{Op: "stream", Code: resp.StatusCode()}
	}
	return raw, nil
}

func closeRaw(resp *resty.Response) {
	if body := resp.RawBody(); body != nil {
		body.Close()
	}
}
