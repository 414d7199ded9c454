package client

import (
	"context"

	"github.com/pkg/errors"
)

// PortalAddress is where the firmware serves its Wi-Fi setup page while it
// runs as an access point ("ESP32-CAM-Config").
const PortalAddress = "192.168.4.1"

// Provision sends station credentials to the device's setup portal. The
// device answers before it tries to join the network, so success here only
// means the credentials were stored.
func (c *ESP32Client) Provision(ctx context.Context, portal, ssid, password string) error {
	if ssid == "" {
		return errors.New("ssid must not be empty")
	}

	resp, err := c.HTTP.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"ssid":     ssid,
			"password": password,
		}).
		Post(portalURL(portal, "/save"))

	if err != nil {
		return errors.Wrap(err, "provisioning request failed")
	}

	if resp.IsError() {
		return &StatusError{Op: "provision", Code: resp.StatusCode(), Body: resp.String()}
	}
	return nil
}

// ResetWiFi clears the stored credentials; the device restarts into
// access-point mode.
func (c *ESP32Client) ResetWiFi(ctx context.Context, portal string) error {
	resp, err := c.HTTP.R().
		SetContext(ctx).
		Get(portalURL(portal, "/reset"))

	if err != nil {
		return errors.Wrap(err, "reset request failed")
	}

	if resp.IsError() {
		return &StatusError{Op: "reset", Code: resp.StatusCode()}
	}
	return nil
}

func portalURL(portal, path string) string {
	if portal == "" {
		portal = PortalAddress
	}
	return "http://" + portal + path
}
