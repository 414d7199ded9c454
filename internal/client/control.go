package client

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
)

// Control sets one camera variable. Success is judged by HTTP status alone;
// the firmware's response body is not inspected.
func (c *ESP32Client) Control(ctx context.Context, name string, value int) error {
	resp, err := c.HTTP.R().
		SetContext(ctx).
		SetQueryParam("var", name).
		SetQueryParam("val", strconv.Itoa(value)).
		Get(c.Endpoints.Control)

	if err != nil {
		return errors.Wrapf(err, "control request for %s failed", name)
	}

	if resp.IsError() {
		return &StatusError{Op: "control " + name, Code: resp.StatusCode(), Body: resp.String()}
	}

	c.log.Debugw("control applied", "var", name, "val", value, "status", resp.StatusCode())
	return nil
}
