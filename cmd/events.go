package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MagaseAiko/ESP32-Security-System/internal/config"
	"github.com/MagaseAiko/ESP32-Security-System/internal/session"
	"github.com/MagaseAiko/ESP32-Security-System/pkg/models"
)

var eventEvery time.Duration

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Follow session events",
	Long:  `Follow connection and settings changes of the saved camera.`,
}

var eventsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print session events as they happen",
	Long: `Keeps a session open, reloads the settings on a fixed period and prints
every change. A camera that stops answering is disconnected and retried on
the next tick.`,
	Example: `  esp32cam events watch
  esp32cam events watch --every 30s --json`,
	Run: func(cmd *cobra.Command, args []string) {
		if eventEvery <= 0 {
			fmt.Println("Error: --every must be positive")
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sess := newSession()
		events, unsubscribe := sess.Subscribe()
		defer unsubscribe()

		// 1. Print events
		done := make(chan struct{})
		go func() {
			defer close(done)
			printEvents(ctx, events)
		}()

		// 2. Poll the camera
		addr := config.Address()
		fmt.Fprintf(os.Stderr, "Watching %s every %s (Ctrl-C to stop)...\n", addr, eventEvery)

		ticker := time.NewTicker(eventEvery)
		defer ticker.Stop()
		for {
			pollOnce(ctx, sess, addr)
			select {
			case <-ctx.Done():
				sess.Disconnect()
				<-done
				return
			case <-ticker.C:
			}
		}
	},
}

func pollOnce(ctx context.Context, sess *session.Session, addr string) {
	if !sess.Snapshot().Connected {
		if err := sess.Connect(ctx, addr); err != nil {
			logger.Debugw("camera still unreachable", "address", addr, "error", err)
		}
		return
	}
	if _, err := sess.LoadSettings(ctx); err != nil && ctx.Err() == nil {
		logger.Warnw("lost camera", "address", addr, "error", err)
		sess.Disconnect()
	}
}

// printEvents writes one row per event. Settings events that change nothing
// are skipped.
func printEvents(ctx context.Context, events <-chan session.Event) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	enc := json.NewEncoder(os.Stdout)
	if !jsonOutput {
		fmt.Fprintln(w, "TIMESTAMP\tEVENT\tADDRESS\tDETAIL")
		fmt.Fprintln(w, "---------\t-----\t-------\t------")
		w.Flush()
	}

	var last *models.Settings
	for {
		var ev session.Event
		select {
		case <-ctx.Done():
			// Drain what the final disconnect published.
			select {
			case e, ok := <-events:
				if !ok {
					return
				}
				ev = e
			case <-time.After(100 * time.Millisecond):
				return
			}
		case e, ok := <-events:
			if !ok {
				return
			}
			ev = e
		}

		detail := ""
		switch ev.Kind {
		case session.EventConnected:
			detail = "session " + ev.ID
		case session.EventSettings:
			if last != nil && *last == ev.Settings {
				continue
			}
			detail = settingsDiff(last, ev.Settings)
		case session.EventFrame:
			detail = fmt.Sprintf("frame error: %t", ev.FrameError)
		}
		s := ev.Settings
		last = &s

		if jsonOutput {
			enc.Encode(ev)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ev.Time.Local().Format("2006-01-02 15:04:05"), ev.Kind, ev.Address, detail)
		w.Flush()
	}
}

// settingsDiff lists the variables that differ from prev, or all of them
// when there is no previous state.
func settingsDiff(prev *models.Settings, cur models.Settings) string {
	var parts []string
	for _, v := range models.Variables {
		now, _ := cur.Get(v.Name)
		if prev == nil {
			parts = append(parts, fmt.Sprintf("%s=%d", v.Name, now))
			continue
		}
		was, _ := prev.Get(v.Name)
		if was != now {
			parts = append(parts, fmt.Sprintf("%s %d->%d", v.Name, was, now))
		}
	}
	return strings.Join(parts, " ")
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsWatchCmd)

	eventsWatchCmd.Flags().DurationVar(&eventEvery, "every", 5*time.Second, "How often to reload the settings")
}
