package endpoint

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestResolveLocal(t *testing.T) {
	got := Resolve("192.168.15.200")
	want := Endpoints{
		Address: "192.168.15.200",
		Base:    "192.168.15.200",
		Tunnel:  false,
		Stream:  "http://192.168.15.200:81/stream",
		Capture: "http://192.168.15.200/capture",
		Status:  "http://192.168.15.200/status",
		Control: "http://192.168.15.200/control",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("endpoints mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveTunnel(t *testing.T) {
	got := Resolve("https://abc123.ngrok-free.app")
	want := Endpoints{
		Address: "https://abc123.ngrok-free.app",
		Base:    "abc123.ngrok-free.app",
		Tunnel:  true,
		Stream:  "https://abc123.ngrok-free.app/stream",
		Capture: "https://abc123.ngrok-free.app/capture",
		Status:  "https://abc123.ngrok-free.app/status",
		Control: "https://abc123.ngrok-free.app/control",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("endpoints mismatch (-want +got):\n%s", diff)
	}
}

func TestLocalStreamURL(t *testing.T) {
	hosts := []string{
		"192.168.15.200",
		"10.0.0.7",
		"172.16.4.2",
		"esp32cam.local",
		"camera",
		"192.168.1.20/cam",
	}
	for _, h := range hosts {
		if IsTunnel(h) {
			t.Fatalf("%q classified as tunnel", h)
		}
		got := Resolve(h).Stream
		want := "http://" + h + ":81/stream"
		if got != want {
			t.Errorf("did not get expected stream url for %q\nGot: %v\nWant: %v", h, got, want)
		}
	}
}

func TestTunnelClassification(t *testing.T) {
	tests := []struct {
		addr   string
		tunnel bool
	}{
		{"abc123.ngrok-free.app", true},
		{"http://abc123.ngrok.io", true},
		{"https://abc123.ngrok-free.app/", true},
		{"https://cam.example.com", true},
		{"https://192.168.0.5", false},
		{"https://10.1.1.1", false},
		{"https://172.20.0.3", false},
		{"192.168.15.200", false},
		{"http://192.168.15.200", false},
		{"cam.example.com", false},
	}

	for _, test := range tests {
		e := Resolve(test.addr)
		if e.Tunnel != test.tunnel {
			t.Errorf("%q: did not get expected classification\nGot: %v\nWant: %v", test.addr, e.Tunnel, test.tunnel)
			continue
		}
		if !e.Tunnel {
			continue
		}
		for _, u := range []string{e.Stream, e.Capture, e.Status, e.Control} {
			if !strings.HasPrefix(u, "https://") {
				t.Errorf("%q: tunnel url %q does not use https", test.addr, u)
			}
			if strings.Contains(u, "https://https://") || strings.Contains(u, "//http") {
				t.Errorf("%q: scheme duplicated in %q", test.addr, u)
			}
		}
	}
}

func TestResolvePure(t *testing.T) {
	for _, addr := range []string{"", "192.168.15.200", "https://abc123.ngrok-free.app", "weird host!"} {
		a, b := Resolve(addr), Resolve(addr)
		if a != b {
			t.Errorf("Resolve(%q) not deterministic: %+v vs %+v", addr, a, b)
		}
	}
}

func TestCaptureAt(t *testing.T) {
	ts := time.UnixMilli(1700000000123)
	got := Resolve("192.168.15.200").CaptureAt(ts)
	want := "http://192.168.15.200/capture?t=1700000000123"
	if got != want {
		t.Errorf("did not get expected capture url\nGot: %v\nWant: %v", got, want)
	}

	e := Endpoints{Capture: "http://cam/capture?_cb=1"}
	u, err := url.Parse(e.CaptureAt(ts))
	if err != nil {
		t.Fatalf("could not parse capture url: %v", err)
	}
	if u.Query().Get("_cb") != "1" || u.Query().Get("t") != "1700000000123" {
		t.Errorf("existing query not preserved: %s", u)
	}
}
