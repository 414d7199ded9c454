// Package session holds the connection state shared by every consumer of
// one camera: the address, whether it is connected, the last known settings
// and the frame error flag. Session is the only writer of that state and
// publishes every change to its subscribers.
//
// Results of requests are applied only if they are still current. A control
// response is dropped when a newer control for the same variable has already
// been applied, a status response never overwrites a variable written after
// it was requested, and nothing issued before a disconnect or reconnect is
// applied afterwards.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/MagaseAiko/ESP32-Security-System/internal/endpoint"
	"github.com/MagaseAiko/ESP32-Security-System/pkg/models"
)

var (
	ErrEmptyAddress = errors.New("address must not be empty")
	ErrNotConnected = errors.New("not connected")
	// ErrStale reports a result that arrived after newer state was applied
	// or after the session it belonged to ended.
	ErrStale = errors.New("result superseded")
)

// Device is the subset of the camera client a session drives.
type Device interface {
	Status(ctx context.Context) (models.Settings, error)
	Control(ctx context.Context, name string, value int) error
}

// Dialer returns a Device for address.
type Dialer func(address string) Device

// AddressStore persists the last successfully connected address.
type AddressStore interface {
	SaveAddress(address string) error
}

type Config struct {
	// Address is the initial, not yet connected, address.
	Address string
	Dial    Dialer
	Store   AddressStore
	Logger  *zap.SugaredLogger
}

// Snapshot is a copy of the session state.
type Snapshot struct {
	ID         string             `json:"id,omitempty"`
	Address    string             `json:"address"`
	Endpoints  endpoint.Endpoints `json:"endpoints"`
	Connected  bool               `json:"connected"`
	Settings   models.Settings    `json:"settings"`
	FrameError bool               `json:"frame_error"`
}

type Session struct {
	dial  Dialer
	store AddressStore
	log   *zap.SugaredLogger

	mu        sync.Mutex
	id        string
	address   string
	endpoints endpoint.Endpoints
	device    Device
	connected bool
	settings  models.Settings
	frameErr  bool

	// gen changes on every connect and disconnect.
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc

	// attempt changes on every Connect call and every Disconnect.
	attempt     uint64
	pendingCancel context.CancelFunc

	issued  map[string]uint64
	applied map[string]uint64

	subs map[chan Event]struct{}
}

func New(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	addr := strings.TrimSpace(cfg.Address)
	return &Session{
		dial:      cfg.Dial,
		store:     cfg.Store,
		log:       cfg.Logger,
		address:   addr,
		endpoints: endpoint.Resolve(addr),
		settings:  models.DefaultSettings(),
		issued:    make(map[string]uint64),
		applied:   make(map[string]uint64),
		subs:      make(map[chan Event]struct{}),
	}
}

// Connect checks address through its status endpoint. On success the
// returned settings become the session settings, the address is persisted
// and subscribers receive EventConnected. On failure the session is left
// disconnected. A Connect overtaken by a later Connect or Disconnect is
// cancelled and returns ErrStale without touching the session.
func (s *Session) Connect(ctx context.Context, address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return ErrEmptyAddress
	}

	s.mu.Lock()
	attempt := s.beginAttempt()
	pctx, cancel := context.WithCancel(ctx)
	s.pendingCancel = cancel
	s.mu.Unlock()
	defer cancel()

	dev := s.dial(address)
	settings, err := dev.Status(pctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if attempt != s.attempt {
		s.log.Debugw("dropping superseded connect", "address", address, "error", err)
		return ErrStale
	}
	s.pendingCancel = nil
	if err != nil {
		s.disconnect()
		return errors.Wrapf(err, "could not connect to %s", address)
	}

	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.id = uuid.NewString()
	s.address = address
	s.endpoints = endpoint.Resolve(address)
	s.device = dev
	s.connected = true
	s.settings = settings
	s.frameErr = false
	s.issued = make(map[string]uint64)
	s.applied = make(map[string]uint64)

	// Persisted only once s.address is current; config watchers compare
	// against it.
	if s.store != nil {
		if err := s.store.SaveAddress(address); err != nil {
			s.log.Warnw("could not persist address", "address", address, "error", err)
		}
	}

	s.log.Infow("connected", "session", s.id, "address", address, "tunnel", s.endpoints.Tunnel)
	s.publish(EventConnected)
	return nil
}

// Disconnect ends the session and cancels its in-flight requests,
// including a pending Connect.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.beginAttempt()
	s.disconnect()
}

// beginAttempt supersedes any pending Connect. Must be called with
// s.mu held.
func (s *Session) beginAttempt() uint64 {
	if s.pendingCancel != nil {
		s.pendingCancel()
		s.pendingCancel = nil
	}
	s.attempt++
	return s.attempt
}

func (s *Session) disconnect() {
	if !s.connected {
		return
	}
	s.cancel()
	s.gen++
	s.connected = false
	s.device = nil
	s.frameErr = false

	s.log.Infow("disconnected", "session", s.id, "address", s.address)
	s.publish(EventDisconnected)
}

// LoadSettings re-reads every variable from the device.
func (s *Session) LoadSettings(ctx context.Context) (models.Settings, error) {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return models.Settings{}, ErrNotConnected
	}
	gen, dev := s.gen, s.device
	issued := make(map[string]uint64, len(s.issued))
	for k, v := range s.issued {
		issued[k] = v
	}
	rctx, done := s.requestContext(ctx)
	s.mu.Unlock()

	loaded, err := dev.Status(rctx)
	done()
	if err != nil {
		return models.Settings{}, errors.Wrap(err, "could not load settings")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		return models.Settings{}, ErrStale
	}

	merged := s.settings
	for _, v := range models.Variables {
		if s.applied[v.Name] > issued[v.Name] {
			continue
		}
		val, _ := loaded.Get(v.Name)
		merged, _ = merged.With(v.Name, val)
	}
	s.settings = merged
	s.publish(EventSettings)
	return merged, nil
}

// ApplySetting sends one control variable to the device and records it
// locally once the device accepts it.
func (s *Session) ApplySetting(ctx context.Context, name string, value int) (models.Settings, error) {
	v, err := models.LookupVariable(name)
	if err != nil {
		return models.Settings{}, err
	}
	if err := v.Validate(value); err != nil {
		return models.Settings{}, err
	}

	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return models.Settings{}, ErrNotConnected
	}
	s.issued[name]++
	gen, seq, dev := s.gen, s.issued[name], s.device
	rctx, done := s.requestContext(ctx)
	s.mu.Unlock()

	err = dev.Control(rctx, name, value)
	done()
	if err != nil {
		return models.Settings{}, errors.Wrapf(err, "could not set %s", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen || seq < s.applied[name] {
		s.log.Debugw("dropping stale control response", "var", name, "val", value, "seq", seq)
		return models.Settings{}, ErrStale
	}
	s.applied[name] = seq
	s.settings, _ = s.settings.With(name, value)
	s.publish(EventSettings)
	return s.settings, nil
}

// ReportFrame records the outcome of the latest frame load. Only changes of
// the error flag are published.
func (s *Session) ReportFrame(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	failed := err != nil
	if !s.connected || failed == s.frameErr {
		return
	}
	s.frameErr = failed
	if failed {
		s.log.Warnw("frame load failed", "session", s.id, "error", err)
	} else {
		s.log.Infow("frames recovered", "session", s.id)
	}
	s.publish(EventFrame)
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *Session) snapshot() Snapshot {
	return Snapshot{
		ID:         s.id,
		Address:    s.address,
		Endpoints:  s.endpoints,
		Connected:  s.connected,
		Settings:   s.settings,
		FrameError: s.frameErr,
	}
}

// requestContext derives a context that also ends when the session does.
// Must be called with s.mu held while connected.
func (s *Session) requestContext(ctx context.Context) (context.Context, func()) {
	rctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return rctx, func() {
		stop()
		cancel()
	}
}

func (s *Session) publish(kind EventKind) {
	ev := Event{Kind: kind, Time: time.Now(), Snapshot: s.snapshot()}
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.log.Debugw("subscriber slow, event dropped", "kind", kind)
		}
	}
}
