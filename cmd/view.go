package cmd

import (
	"context"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/websocket"
	"github.com/mattn/go-mjpeg"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MagaseAiko/ESP32-Security-System/internal/client"
	"github.com/MagaseAiko/ESP32-Security-System/internal/config"
	"github.com/MagaseAiko/ESP32-Security-System/internal/refresher"
	"github.com/MagaseAiko/ESP32-Security-System/internal/session"
)

const (
	modeStream = "stream"
	modePoll   = "poll"

	// streamRetry is the pause before reopening a dropped /stream.
	streamRetry = time.Second
	wsWriteWait = 10 * time.Second
)

var (
	viewMode     string
	viewListen   string
	viewInterval time.Duration
)

// viewer re-serves one camera's feed locally and exposes the session to
// browsers.
type viewer struct {
	sess     *session.Session
	stream   *mjpeg.Stream
	mode     string
	interval time.Duration
	dial     func(address string) *client.ESP32Client
	log      *zap.SugaredLogger

	registry *prometheus.Registry
	frames   *prometheus.CounterVec

	// latest is the last relayed frame. Stream.Current waits for the next
	// update, so /jpeg serves this instead.
	latest atomic.Pointer[[]byte]

	mu       sync.Mutex
	stopFeed func()
}

func newViewer(sess *session.Session, mode string, interval time.Duration, dial func(string) *client.ESP32Client, log *zap.SugaredLogger) *viewer {
	v := &viewer{
		sess:     sess,
		stream:   mjpeg.NewStream(),
		mode:     mode,
		interval: interval,
		dial:     dial,
		log:      log,
		registry: prometheus.NewRegistry(),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "esp32cam_viewer_frames_total",
			Help: "Frames relayed by the viewer, by mode and result.",
		}, []string{"mode", "result"}),
	}
	v.registry.MustRegister(v.frames)
	v.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "esp32cam_viewer_connected",
		Help: "Whether the viewer's session is connected.",
	}, func() float64 {
		if v.sess.Snapshot().Connected {
			return 1
		}
		return 0
	}))
	return v
}

// run follows session events until ctx ends, starting a feed on every
// connect and stopping it on disconnect.
func (v *viewer) run(ctx context.Context, events <-chan session.Event) {
	defer v.halt()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case session.EventConnected:
				v.start(ctx, ev.Address)
			case session.EventDisconnected:
				v.halt()
			}
		}
	}
}

func (v *viewer) start(ctx context.Context, address string) {
	v.halt()

	cam := v.dial(address)
	ctx, cancel := context.WithCancel(ctx)

	if v.mode == modePoll {
		r := refresher.New(refresher.Config{
			Interval: v.interval,
			Source:   cam.Endpoints.CaptureAt,
			Display: refresher.DisplayFunc(func(ctx context.Context, src string) error {
				b, err := cam.Frame(ctx, src)
				if err != nil {
					return err
				}
				return v.showFrame(b)
			}),
			OnResult: v.record,
			Logger:   v.log,
		})
		r.Start(ctx)
		v.setStop(func() {
			r.Stop()
			cancel()
		})
		v.log.Infow("polling capture endpoint", "url", cam.Endpoints.Capture, "interval", v.interval)
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		v.relay(ctx, cam)
	}()
	v.setStop(func() {
		cancel()
		<-done
	})
	v.log.Infow("relaying stream", "url", cam.Endpoints.Stream)
}

func (v *viewer) setStop(stop func()) {
	v.mu.Lock()
	v.stopFeed = stop
	v.mu.Unlock()
}

func (v *viewer) halt() {
	v.mu.Lock()
	stop := v.stopFeed
	v.stopFeed = nil
	v.mu.Unlock()

	if stop != nil {
		stop()
	}
}

// relay copies JPEG parts from the camera's multipart stream into the local
// stream, reopening it when it drops.
func (v *viewer) relay(ctx context.Context, cam *client.ESP32Client) {
	for ctx.Err() == nil {
		err := v.relayOnce(ctx, cam)
		if ctx.Err() != nil {
			return
		}
		v.record(err)
		v.log.Debugw("stream ended, reopening", "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(streamRetry):
		}
	}
}

func (v *viewer) relayOnce(ctx context.Context, cam *client.ESP32Client) error {
	resp, err := cam.OpenStream(ctx)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	dec, err := mjpeg.NewDecoderFromResponse(resp)
	if err != nil {
		return err
	}
	for {
		b, err := dec.DecodeRaw()
		if err != nil {
			return err
		}
		if err := v.showFrame(b); err != nil {
			return err
		}
		v.record(nil)
	}
}

func (v *viewer) showFrame(b []byte) error {
	frame := append([]byte(nil), b...)
	v.latest.Store(&frame)
	return v.stream.Update(frame)
}

func (v *viewer) record(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	v.frames.WithLabelValues(v.mode, result).Inc()
	v.sess.ReportFrame(err)
}

func (v *viewer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", v.serveIndex)
	mux.Handle("/mjpeg", v.stream)
	mux.HandleFunc("/jpeg", v.serveJPEG)
	mux.HandleFunc("/events", v.serveEvents)
	mux.HandleFunc("/api/settings", v.serveSettings)
	mux.HandleFunc("/api/control", v.serveControl)
	mux.HandleFunc("/api/connect", v.serveConnect)
	mux.HandleFunc("/api/disconnect", v.serveDisconnect)
	mux.Handle("/metrics", promhttp.HandlerFor(v.registry, promhttp.HandlerOpts{}))
	return mux
}

var indexTmpl = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html><head><title>ESP32-CAM</title></head>
<body>
<h1>ESP32-CAM {{.Address}}</h1>
{{if .Connected}}<img src="/mjpeg" alt="live feed">{{else}}<p>Not connected.</p>{{end}}
</body></html>`))

func (v *viewer) serveIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTmpl.Execute(w, v.sess.Snapshot()); err != nil {
		v.log.Warnw("could not render index", "error", err)
	}
}

func (v *viewer) serveJPEG(w http.ResponseWriter, r *http.Request) {
	p := v.latest.Load()
	if p == nil || len(*p) == 0 {
		http.Error(w, "no frame yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(*p)
}

func (v *viewer) serveSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, v.sess.Snapshot())
}

func (v *viewer) serveControl(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("var")
	val, err := strconv.Atoi(r.URL.Query().Get("val"))
	if name == "" || err != nil {
		http.Error(w, "var and integer val are required", http.StatusBadRequest)
		return
	}

	settings, err := v.sess.ApplySetting(r.Context(), name, val)
	if err != nil {
		writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (v *viewer) serveConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "use POST", http.StatusMethodNotAllowed)
		return
	}
	if err := v.sess.Connect(r.Context(), r.FormValue("address")); err != nil {
		writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, v.sess.Snapshot())
}

func (v *viewer) serveDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "use POST", http.StatusMethodNotAllowed)
		return
	}
	v.sess.Disconnect()
	writeJSON(w, http.StatusOK, v.sess.Snapshot())
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// serveEvents pushes the current snapshot and then every session event.
func (v *viewer) serveEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		v.log.Debugw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := v.sess.Subscribe()
	defer unsubscribe()

	// Reads only detect the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	first := session.Event{Kind: session.EventSnapshot, Time: time.Now(), Snapshot: v.sess.Snapshot()}
	if err := v.writeEvent(conn, first); err != nil {
		return
	}
	for {
		select {
		case <-gone:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := v.writeEvent(conn, ev); err != nil {
				v.log.Debugw("websocket write failed", "error", err)
				return
			}
		}
	}
}

func (v *viewer) writeEvent(conn *websocket.Conn, ev session.Event) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(ev)
}

// watchAddress reconnects when the saved address changes on disk, e.g.
// after 'esp32cam connect' from another terminal.
func (v *viewer) watchAddress(ctx context.Context) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		addr := config.Address()
		if addr == "" || addr == v.sess.Snapshot().Address {
			return
		}
		v.log.Infow("saved address changed", "address", addr, "file", e.Name)
		if err := v.sess.Connect(ctx, addr); err != nil {
			v.log.Warnw("could not connect to new address", "address", addr, "error", err)
		}
	})
	viper.WatchConfig()
}

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Serve the camera feed and controls on a local web page",
	Long: `Connects to the saved camera and re-serves its video on a local HTTP server.

In stream mode the camera's MJPEG stream is relayed directly. In poll mode,
for links where the stream is unusable, a fresh still is requested from the
capture endpoint on every tick.

Routes:
  /               viewer page
  /mjpeg          MJPEG stream
  /jpeg           latest frame
  /events         session events (WebSocket, JSON)
  /api/settings   session state (JSON)
  /api/control    ?var=<name>&val=<int>
  /api/connect    POST address=<address>
  /api/disconnect POST
  /metrics        Prometheus metrics`,
	Example: `  esp32cam view
  esp32cam view --mode poll --interval 400ms --listen :9000`,
	Run: func(cmd *cobra.Command, args []string) {
		if viewMode != modeStream && viewMode != modePoll {
			fmt.Printf("Error: --mode must be %q or %q\n", modeStream, modePoll)
			os.Exit(1)
		}
		if !cmd.Flags().Changed("interval") {
			viewInterval = viper.GetDuration(config.KeyRefreshInterval)
		}
		if !cmd.Flags().Changed("listen") {
			viewListen = viper.GetString(config.KeyListen)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sess := newSession()
		v := newViewer(sess, viewMode, viewInterval, newClient, logger)

		events, unsubscribe := sess.Subscribe()
		defer unsubscribe()
		go v.run(ctx, events)
		v.watchAddress(ctx)

		if err := sess.Connect(ctx, config.Address()); err != nil {
			logger.Warnw("camera not reachable; waiting for a new address", "error", err)
		}

		server := &http.Server{Addr: viewListen, Handler: v.routes()}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			sess.Disconnect()
			v.stream.Close()
			server.Shutdown(shutdownCtx)
		}()

		fmt.Printf("Viewer listening on %s (mode %s)\n", viewListen, viewMode)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorw("HTTP server error", "error", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(viewCmd)
	viewCmd.Flags().StringVar(&viewMode, "mode", modeStream, "Feed mode: stream or poll")
	viewCmd.Flags().StringVar(&viewListen, "listen", ":8080", "Address for the local viewer server")
	viewCmd.Flags().DurationVar(&viewInterval, "interval", refresher.DefaultInterval, "Polling period in poll mode (e.g. 100ms, 200ms, 400ms)")
}
