// Package endpoint derives the device URLs from the single address a user
// types in: either a host on the local network or a public tunnel hostname.
package endpoint

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// TunnelMarker identifies relay hostnames regardless of scheme.
	TunnelMarker = "ngrok"

	// StreamPort is where the firmware serves /stream on the local network.
	StreamPort = 81

	secureScheme = "https://"
	plainScheme  = "http://"
)

// privatePrefixes are the host prefixes treated as local network even when
// entered with the secure scheme.
var privatePrefixes = []string{"192.168.", "10.", "172."}

// Endpoints is the URL set for one connection address.
type Endpoints struct {
	Address string `json:"address"`
	Base    string `json:"base"`
	Tunnel  bool   `json:"tunnel"`
	Stream  string `json:"stream"`
	Capture string `json:"capture"`
	Status  string `json:"status"`
	Control string `json:"control"`
}

// IsTunnel reports whether address points at a public relay instead of the
// device itself.
func IsTunnel(address string) bool {
	if strings.Contains(address, TunnelMarker) {
		return true
	}
	if !strings.HasPrefix(address, secureScheme) {
		return false
	}
	host := strings.TrimPrefix(address, secureScheme)
	for _, p := range privatePrefixes {
		if strings.HasPrefix(host, p) {
			return false
		}
	}
	return true
}

// Resolve derives the endpoint set for address. It never fails: an address
// that is not a usable host produces URLs that fail when requested.
func Resolve(address string) Endpoints {
	e := Endpoints{Address: address, Tunnel: IsTunnel(address)}

	if e.Tunnel {
		e.Base = strings.TrimRight(stripScheme(address), "/")
		e.Stream = secureScheme + e.Base + "/stream"
		e.Capture = secureScheme + e.Base + "/capture"
		e.Status = secureScheme + e.Base + "/status"
		e.Control = secureScheme + e.Base + "/control"
		return e
	}

	e.Base = strings.TrimRight(stripScheme(address), "/")
	e.Stream = plainScheme + e.Base + ":" + strconv.Itoa(StreamPort) + "/stream"
	e.Capture = plainScheme + e.Base + "/capture"
	e.Status = plainScheme + e.Base + "/status"
	e.Control = plainScheme + e.Base + "/control"
	return e
}

// CaptureAt returns the capture URL with a timestamp parameter so every
// request bypasses intermediate caches.
func (e Endpoints) CaptureAt(t time.Time) string {
	return withTimestamp(e.Capture, t)
}

func withTimestamp(raw string, t time.Time) string {
	ts := strconv.FormatInt(t.UnixMilli(), 10)
	u, err := url.Parse(raw)
	if err != nil {
		return raw + "?t=" + ts
	}
	q := u.Query()
	q.Set("t", ts)
	u.RawQuery = q.Encode()
	return u.String()
}

func stripScheme(address string) string {
	switch {
	case strings.HasPrefix(address, secureScheme):
		return strings.TrimPrefix(address, secureScheme)
	case strings.HasPrefix(address, plainScheme):
		return strings.TrimPrefix(address, plainScheme)
	}
	return address
}
