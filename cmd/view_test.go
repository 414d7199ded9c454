package cmd

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"mime/multipart"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/MagaseAiko/ESP32-Security-System/internal/client"
	"github.com/MagaseAiko/ESP32-Security-System/internal/session"
)

var testFrame = []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0xff, 0xd9}

// camStub serves the firmware endpoints the viewer touches.
type camStub struct {
	mu       sync.Mutex
	captures int
	controls []url.Values
}

func (c *camStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch r.URL.Path {
	case "/status":
		io.WriteString(w, `{"quality":10,"framesize":10,"led_intensity":0}`)
	case "/control":
		c.controls = append(c.controls, r.URL.Query())
	case "/capture":
		c.captures++
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(testFrame)
	default:
		http.NotFound(w, r)
	}
}

func (c *camStub) captureCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.captures
}

func (c *camStub) received() []url.Values {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]url.Values(nil), c.controls...)
}

func newTestViewer(t *testing.T, mode string) (*viewer, *camStub, string) {
	t.Helper()
	cam := &camStub{}
	srv := httptest.NewServer(cam)
	t.Cleanup(srv.Close)

	// Handlers may outlive the test by a moment; zaptest would panic then.
	log := zap.NewNop().Sugar()
	dial := func(address string) *client.ESP32Client {
		return client.New(client.ClientConfig{Address: address, Timeout: time.Second, Logger: log})
	}
	sess := session.New(session.Config{
		Dial:   func(address string) session.Device { return dial(address) },
		Logger: log,
	})
	return newViewer(sess, mode, 20*time.Millisecond, dial, log), cam, srv.URL
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestViewerPollRelaysFrames(t *testing.T) {
	v, cam, addr := newTestViewer(t, modePoll)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, unsubscribe := v.sess.Subscribe()
	defer unsubscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		v.run(ctx, events)
	}()

	if err := v.sess.Connect(ctx, addr); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}

	waitFor(t, "polled captures", func() bool { return cam.captureCount() >= 3 })

	srv := httptest.NewServer(v.routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/jpeg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !bytes.Equal(body, testFrame) {
		t.Errorf("expected the camera frame, got %d %x", resp.StatusCode, body)
	}

	// Disconnecting stops the feed.
	v.sess.Disconnect()
	waitFor(t, "feed to stop", func() bool {
		v.mu.Lock()
		defer v.mu.Unlock()
		return v.stopFeed == nil
	})
	time.Sleep(50 * time.Millisecond)
	n := cam.captureCount()
	time.Sleep(100 * time.Millisecond)
	if got := cam.captureCount(); got != n {
		t.Errorf("expected no captures after disconnect, got %d more", got-n)
	}

	cancel()
	<-done
}

// streamStub serves a multipart JPEG stream that sends a few parts and then
// drops the connection.
type streamStub struct {
	mu    sync.Mutex
	opens int
}

func (s *streamStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.opens++
	s.mu.Unlock()

	mw := multipart.NewWriter(w)
	w.Header().Set("Content-Type", "multipart/x-mixed-replace;boundary="+mw.Boundary())
	for i := 0; i < 3; i++ {
		part, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"image/jpeg"}})
		if err != nil {
			return
		}
		part.Write(testFrame)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
	mw.Close()
}

func (s *streamStub) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

func TestViewerStreamRelaysFrames(t *testing.T) {
	v, _, addr := newTestViewer(t, modeStream)

	cam := &streamStub{}
	camSrv := httptest.NewServer(cam)
	defer camSrv.Close()
	dial := v.dial
	v.dial = func(address string) *client.ESP32Client {
		c := dial(address)
		c.Endpoints.Stream = camSrv.URL + "/stream"
		return c
	}

	srv := httptest.NewServer(v.routes())
	defer srv.Close()
	defer v.stream.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, unsubscribe := v.sess.Subscribe()
	defer unsubscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		v.run(ctx, events)
	}()

	// Follow /mjpeg before connecting. A client that joins late still gets
	// parts from the next reopen.
	relayed := make(chan []byte, 1)
	go func() {
		resp, err := http.Get(srv.URL + "/mjpeg")
		if err != nil {
			relayed <- nil
			return
		}
		defer resp.Body.Close()
		var buf bytes.Buffer
		chunk := make([]byte, 512)
		for !bytes.Contains(buf.Bytes(), testFrame) {
			n, err := resp.Body.Read(chunk)
			buf.Write(chunk[:n])
			if err != nil {
				break
			}
		}
		relayed <- buf.Bytes()
	}()
	time.Sleep(50 * time.Millisecond)

	if err := v.sess.Connect(ctx, addr); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}

	select {
	case b := <-relayed:
		if !bytes.Contains(b, testFrame) {
			t.Errorf("frame not relayed on /mjpeg, got %x", b)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for /mjpeg")
	}

	rec := httptest.NewRecorder()
	v.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jpeg", nil))
	if rec.Code != http.StatusOK || !bytes.Equal(rec.Body.Bytes(), testFrame) {
		t.Errorf("expected the relayed frame on /jpeg, got %d %x", rec.Code, rec.Body.Bytes())
	}

	// The stub hangs up after three parts; the relay reopens it.
	waitFor(t, "stream reopen", func() bool { return cam.openCount() >= 2 })
	if n := testutil.ToFloat64(v.frames.WithLabelValues(modeStream, "ok")); n < 3 {
		t.Errorf("expected at least 3 relayed frames, got %v", n)
	}
	if n := testutil.ToFloat64(v.frames.WithLabelValues(modeStream, "error")); n < 1 {
		t.Errorf("expected the dropped stream to be counted, got %v", n)
	}

	cancel()
	<-done
}

func TestViewerJPEGBeforeFirstFrame(t *testing.T) {
	v, _, _ := newTestViewer(t, modePoll)

	rec := httptest.NewRecorder()
	v.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jpeg", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestViewerControl(t *testing.T) {
	v, cam, addr := newTestViewer(t, modePoll)
	h := v.routes()

	tests := []struct {
		name      string
		query     string
		connected bool
		wantCode  int
	}{
		{"not connected", "var=quality&val=12", false, http.StatusServiceUnavailable},
		{"missing value", "var=quality", true, http.StatusBadRequest},
		{"unknown variable", "var=gain&val=1", true, http.StatusBadRequest},
		{"out of range", "var=quality&val=99", true, http.StatusBadRequest},
		{"accepted", "var=quality&val=12", true, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.connected && !v.sess.Snapshot().Connected {
				if err := v.sess.Connect(context.Background(), addr); err != nil {
					t.Fatalf("unexpected connect error: %v", err)
				}
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/control?"+tt.query, nil))
			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
		})
	}

	got := cam.received()
	if len(got) != 1 || got[0].Get("var") != "quality" || got[0].Get("val") != "12" {
		t.Errorf("expected exactly one quality=12 control, got %v", got)
	}
	if q := v.sess.Snapshot().Settings.Quality; q != 12 {
		t.Errorf("expected quality 12 in session, got %d", q)
	}
}

func TestViewerConnectRoutes(t *testing.T) {
	v, _, addr := newTestViewer(t, modePoll)
	h := v.routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/connect", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for GET, got %d", rec.Code)
	}

	form := strings.NewReader(url.Values{"address": {addr}}.Encode())
	req := httptest.NewRequest(http.MethodPost, "/api/connect", form)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !v.sess.Snapshot().Connected {
		t.Fatalf("expected connected session, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/disconnect", nil))
	if rec.Code != http.StatusOK || v.sess.Snapshot().Connected {
		t.Errorf("expected disconnected session, got %d", rec.Code)
	}
}

func TestViewerEvents(t *testing.T) {
	v, _, addr := newTestViewer(t, modePoll)
	if err := v.sess.Connect(context.Background(), addr); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}

	srv := httptest.NewServer(v.routes())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/events", nil)
	if err != nil {
		t.Fatalf("unexpected dial error: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var first session.Event
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if first.Kind != session.EventSnapshot || !first.Connected || first.Address != addr {
		t.Errorf("unexpected first event %+v", first)
	}

	if _, err := v.sess.ApplySetting(context.Background(), "led_intensity", 100); err != nil {
		t.Fatalf("unexpected control error: %v", err)
	}

	var next session.Event
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if next.Kind != session.EventSettings || next.Settings.LEDIntensity != 100 {
		t.Errorf("unexpected settings event %+v", next)
	}
}

func TestViewerMetrics(t *testing.T) {
	v, _, addr := newTestViewer(t, modePoll)
	if err := v.sess.Connect(context.Background(), addr); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	v.record(nil)

	rec := httptest.NewRecorder()
	v.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		"esp32cam_viewer_connected 1",
		`esp32cam_viewer_frames_total{mode="poll",result="ok"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in metrics output", want)
		}
	}
}

func TestStatusFor(t *testing.T) {
	v, _, _ := newTestViewer(t, modePoll)
	_, err := v.sess.ApplySetting(context.Background(), "quality", 12)
	if got := statusFor(err); got != http.StatusServiceUnavailable {
		t.Errorf("not connected: expected 503, got %d", got)
	}
	if got := statusFor(session.ErrStale); got != http.StatusConflict {
		t.Errorf("stale: expected 409, got %d", got)
	}
	if got := statusFor(&client.StatusError{Op: "control", Code: 500}); got != http.StatusBadGateway {
		t.Errorf("device error: expected 502, got %d", got)
	}
}
