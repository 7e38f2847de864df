package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/host"

	"mirrorcast/internal/types"
)

func newTestResponder() *Responder {
	r := New(8080, types.Geometry{Width: 1280, Height: 720}, zerolog.Nop())
	r.hostInfo = func(context.Context) (*host.InfoStat, error) {
		return &host.InfoStat{Hostname: "studio", Platform: "ubuntu", OS: "linux"}, nil
	}
	r.ifaceAddr = func() ([]net.Addr, error) {
		return []net.Addr{
			&net.IPNet{IP: net.ParseIP("127.0.0.1")},
			&net.IPNet{IP: net.ParseIP("fe80::1")},
			&net.IPNet{IP: net.ParseIP("192.168.1.20")},
		}, nil
	}
	return r
}

func TestServeHTTP(t *testing.T) {
	r := newTestResponder()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("CORS header = %q", got)
	}
	var info Info
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatal(err)
	}
	want := Info{IPAddress: "192.168.1.20", Port: 8080, Device: "studio", Platform: "ubuntu",
		Screen: types.Geometry{Width: 1280, Height: 720}}
	if info != want {
		t.Errorf("info = %+v, want %+v", info, want)
	}
}

func TestLocalAddrWins(t *testing.T) {
	r := newTestResponder()
	info := r.Info(context.Background(), &net.TCPAddr{IP: net.ParseIP("10.0.0.5"), Port: 8081})
	if info.IPAddress != "10.0.0.5" {
		t.Errorf("ip = %q, want 10.0.0.5", info.IPAddress)
	}
	info = r.Info(context.Background(), &net.TCPAddr{IP: net.IPv4zero})
	if info.IPAddress != "192.168.1.20" {
		t.Errorf("ip = %q, want interface address", info.IPAddress)
	}
}

func TestHostInfoFailure(t *testing.T) {
	r := newTestResponder()
	r.hostInfo = func(context.Context) (*host.InfoStat, error) { return nil, errors.New("no /proc") }
	r.ifaceAddr = func() ([]net.Addr, error) { return nil, errors.New("no interfaces") }

	info := r.Info(context.Background(), nil)
	if info.Device != "unknown" || info.IPAddress != "0.0.0.0" || info.Port != 8080 {
		t.Errorf("info = %+v", info)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestResponder().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d", rec.Code)
	}
}
