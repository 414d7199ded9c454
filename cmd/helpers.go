package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/MagaseAiko/ESP32-Security-System/internal/client"
	"github.com/MagaseAiko/ESP32-Security-System/internal/config"
	"github.com/MagaseAiko/ESP32-Security-System/internal/session"
	"github.com/MagaseAiko/ESP32-Security-System/pkg/models"
)

func newClient(address string) *client.ESP32Client {
	return client.New(client.ClientConfig{
		Address: address,
		Timeout: viper.GetDuration(config.KeyTimeout),
		Logger:  logger,
	})
}

func newSession() *session.Session {
	return session.New(session.Config{
		Address: config.Address(),
		Dial:    func(address string) session.Device { return newClient(address) },
		Store:   config.Store{},
		Logger:  logger,
	})
}

// connectedSession connects to the stored address or exits.
func connectedSession(ctx context.Context) *session.Session {
	sess := newSession()
	addr := config.Address()
	if err := sess.Connect(ctx, addr); err != nil {
		fmt.Printf("Error: could not reach camera at %s: %v\n", addr, err)
		fmt.Println("Run 'esp32cam connect <address>' to set a different address.")
		os.Exit(1)
	}
	return sess
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Printf("Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps session and validation errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrUnknownVariable), errors.Is(err, models.ErrOutOfRange),
		errors.Is(err, session.ErrEmptyAddress):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotConnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrStale):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}
