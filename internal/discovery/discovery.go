// Package discovery answers "where am I" queries from viewers looking for
// the streaming server on the local network.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/host"

	"mirrorcast/internal/types"
)

type Info struct {
	IPAddress string         `json:"ipAddress"`
	Port      int            `json:"port"`
	Device    string         `json:"device"`
	Platform  string         `json:"platform"`
	Screen    types.Geometry `json:"screen"`
}

type Responder struct {
	port   int
	screen types.Geometry
	log    zerolog.Logger

	hostInfo  func(context.Context) (*host.InfoStat, error)
	ifaceAddr func() ([]net.Addr, error)
}

// New returns a responder advertising the streaming server on port.
func New(port int, screen types.Geometry, log zerolog.Logger) *Responder {
	return &Responder{
		port:      port,
		screen:    screen,
		log:       log,
		hostInfo:  host.InfoWithContext,
		ifaceAddr: net.InterfaceAddrs,
	}
}

// Info describes this host. local, when known, is the address the query
// arrived on and wins over interface scanning.
func (r *Responder) Info(ctx context.Context, local net.Addr) Info {
	info := Info{
		IPAddress: r.address(local),
		Port:      r.port,
		Device:    "unknown",
		Platform:  "unknown",
		Screen:    r.screen,
	}
	hi, err := r.hostInfo(ctx)
	if err != nil {
		r.log.Debug().Err(err).Msg("host info")
		return info
	}
	if hi.Hostname != "" {
		info.Device = hi.Hostname
	}
	if hi.Platform != "" {
		info.Platform = hi.Platform
	} else if hi.OS != "" {
		info.Platform = hi.OS
	}
	return info
}

func (r *Responder) address(local net.Addr) string {
	if ip := addrIP(local); ip != nil && !ip.IsUnspecified() {
		return ip.String()
	}
	addrs, err := r.ifaceAddr()
	if err != nil {
		r.log.Warn().Err(err).Msg("list interface addresses")
		return "0.0.0.0"
	}
	for _, a := range addrs {
		ip := addrIP(a)
		if ip == nil || ip.IsLoopback() || ip.To4() == nil {
			continue
		}
		return ip.String()
	}
	return "0.0.0.0"
}

func addrIP(a net.Addr) net.IP {
	switch v := a.(type) {
	case *net.IPNet:
		return v.IP
	case *net.TCPAddr:
		return v.IP
	case *net.IPAddr:
		return v.IP
	}
	return nil
}

func (r *Responder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if req.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	local, _ := req.Context().Value(http.LocalAddrContextKey).(net.Addr)
	ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(r.Info(ctx, local)); err != nil {
		r.log.Debug().Err(err).Msg("write discovery response")
		return
	}
	r.log.Debug().Str("remote", req.RemoteAddr).Msg("answered discovery request")
}

// ListenAndServe runs a standalone responder on addr, answering every GET
// path, until ctx is done.
func (r *Responder) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	r.log.Info().Str("addr", addr).Msg("discovery responder listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
