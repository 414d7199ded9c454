package client

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/MagaseAiko/ESP32-Security-System/internal/endpoint"
	"github.com/MagaseAiko/ESP32-Security-System/pkg/models"
)

// DefaultTimeout bounds every non-streaming request.
const DefaultTimeout = 5 * time.Second

// tunnelHeader makes ngrok relays pass the device response through instead
// of their browser warning page.
const tunnelHeader = "ngrok-skip-browser-warning"

type ESP32Client struct {
	HTTP      *resty.Client
	Config    ClientConfig
	Endpoints endpoint.Endpoints

	// stream has no overall timeout; /stream never ends on its own.
	stream *resty.Client
	log    *zap.SugaredLogger
}

type ClientConfig struct {
	Address string
	Timeout time.Duration
	Logger  *zap.SugaredLogger
}

// StatusError is returned when the device (or relay) answers with a
// non-success HTTP status.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s failed: HTTP %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s failed: HTTP %d: %s", e.Op, e.Code, e.Body)
}

func New(cfg ClientConfig) *ESP32Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	ep := endpoint.Resolve(cfg.Address)

	return &ESP32Client{
		HTTP:      newResty(ep, cfg).SetTimeout(cfg.Timeout),
		Config:    cfg,
		Endpoints: ep,
		stream:    newResty(ep, cfg),
		log:       cfg.Logger,
	}
}

func newResty(ep endpoint.Endpoints, cfg ClientConfig) *resty.Client {
	r := resty.New()
	r.SetLogger(cfg.Logger)
	r.SetHeader("User-Agent", "esp32cam-cli")
	if ep.Tunnel {
		r.SetHeader(tunnelHeader, "true")
	}
	return r
}

// Status fetches the camera parameters from the status endpoint.
func (c *ESP32Client) Status(ctx context.Context) (models.Settings, error) {
	resp, err := c.HTTP.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		Get(c.Endpoints.Status)

	if err != nil {
		return models.Settings{}, errors.Wrap(err, "status request failed")
	}

	if resp.IsError() {
		return models.Settings{}, &StatusError{Op: "status", Code: resp.StatusCode(), Body: resp.String()}
	}

	settings, err := models.ParseStatus(resp.Body())
	if err != nil {
		return models.Settings{}, errors.Wrap(err, "failed to parse status response")
	}
	return settings, nil
}
