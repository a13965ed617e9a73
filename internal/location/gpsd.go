// Package location implements the LocationProvider capability on top of a
// gpsd daemon: newline-delimited JSON over TCP, one-shot fixes and a
// continuous watch.
package location

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/msomdec/safewalk/internal/domain"
)

const (
	// watchCommand enables gpsd's JSON report stream for the connection.
	watchCommand = `?WATCH={"enable":true,"json":true};` + "\n"

	dialTimeout      = 5 * time.Second
	reconnectBackoff = 2 * time.Second
)

// tpv is the subset of a gpsd TPV (time-position-velocity) report we use.
// Mode 2 is a 2D fix, mode 3 a 3D fix; anything below carries no position.
type tpv struct {
	Class string   `json:"class"`
	Mode  int      `json:"mode"`
	Lat   *float64 `json:"lat"`
	Lon   *float64 `json:"lon"`
	EPH   float64  `json:"eph"`
	EPX   float64  `json:"epx"`
	EPY   float64  `json:"epy"`
}

func (r *tpv) fix() (domain.Fix, bool) {
	if r.Class != "TPV" || r.Mode < 2 || r.Lat == nil || r.Lon == nil {
		return domain.Fix{}, false
	}
	acc := r.EPH
	if acc == 0 {
		acc = max(r.EPX, r.EPY)
	}
	return domain.Fix{Lat: *r.Lat, Lng: *r.Lon, AccuracyMeters: acc}, true
}

// dialError classifies a failed daemon connection. A restricted gpsd socket
// surfaces as a permission error distinct from the daemon simply being down.
func dialError(addr string, err error) error {
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("connect gpsd at %s: %w", addr, domain.ErrPermissionDenied)
	}
	return fmt.Errorf("connect gpsd at %s: %w", addr, err)
}

// GPSD provides fixes from a gpsd daemon.
type GPSD struct {
	addr string

	mu       sync.Mutex
	watching bool
}

// NewGPSD creates a provider for the daemon at addr (host:port).
func NewGPSD(addr string) *GPSD {
	return &GPSD{addr: addr}
}

// GetFix opens a connection and blocks until the first usable TPV report or
// ctx expiry. Expiry maps to ErrAcquisitionTimeout: the daemon was reachable
// but produced no fix in time.
func (g *GPSD) GetFix(ctx context.Context) (domain.Fix, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", g.addr)
	if err != nil {
		// Timing out while still connecting is the same condition as
		// timing out while waiting for a report: no fix in time.
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.Fix{}, domain.ErrAcquisitionTimeout
		}
		return domain.Fix{}, dialError(g.addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	if _, err := conn.Write([]byte(watchCommand)); err != nil {
		return domain.Fix{}, fmt.Errorf("enable gpsd watch: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var report tpv
		if err := json.Unmarshal(scanner.Bytes(), &report); err != nil {
			continue // gpsd emits banners and device lists we don't parse
		}
		if fix, ok := report.fix(); ok {
			return fix, nil
		}
	}

	if scanErr := scanner.Err(); scanErr != nil {
		if ne, ok := scanErr.(net.Error); ok && ne.Timeout() {
			return domain.Fix{}, domain.ErrAcquisitionTimeout
		}
		if ctx.Err() != nil {
			return domain.Fix{}, domain.ErrAcquisitionTimeout
		}
		return domain.Fix{}, fmt.Errorf("read gpsd stream: %w", scanErr)
	}
	return domain.Fix{}, domain.ErrAcquisitionTimeout
}

// Watch streams fixes to cb until the returned handle is stopped. The stream
// survives daemon restarts by redialling; individual outages degrade
// tracking, never the countdown.
func (g *GPSD) Watch(cb func(domain.Fix)) (domain.WatchHandle, error) {
	g.mu.Lock()
	if g.watching {
		g.mu.Unlock()
		return nil, domain.ErrWatchActive
	}
	g.watching = true
	g.mu.Unlock()

	conn, err := net.DialTimeout("tcp", g.addr, dialTimeout)
	if err != nil {
		g.mu.Lock()
		g.watching = false
		g.mu.Unlock()
		return nil, dialError(g.addr, err)
	}

	w := &gpsdWatch{provider: g, done: make(chan struct{})}
	w.setConn(conn)
	go w.run(cb)
	return w, nil
}

type gpsdWatch struct {
	provider *GPSD
	done     chan struct{}

	mu       sync.Mutex
	conn     net.Conn
	stopOnce sync.Once
}

func (w *gpsdWatch) setConn(conn net.Conn) {
	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
}

// Stop tears the watch down. Idempotent.
func (w *gpsdWatch) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		if w.conn != nil {
			w.conn.Close()
		}
		w.mu.Unlock()

		w.provider.mu.Lock()
		w.provider.watching = false
		w.provider.mu.Unlock()
	})
}

func (w *gpsdWatch) run(cb func(domain.Fix)) {
	for {
		w.mu.Lock()
		conn := w.conn
		w.mu.Unlock()

		if conn != nil {
			w.stream(conn, cb)
			conn.Close()
		}

		select {
		case <-w.done:
			return
		case <-time.After(reconnectBackoff):
		}

		conn, err := net.DialTimeout("tcp", w.provider.addr, dialTimeout)
		if err != nil {
			slog.Warn("gpsd reconnect failed", "addr", w.provider.addr, "error", err)
			w.setConn(nil)
			continue
		}
		w.setConn(conn)
	}
}

// stream reads reports from one connection until it fails or the watch stops.
func (w *gpsdWatch) stream(conn net.Conn, cb func(domain.Fix)) {
	if _, err := conn.Write([]byte(watchCommand)); err != nil {
		return
	}
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		select {
		case <-w.done:
			return
		default:
		}
		var report tpv
		if err := json.Unmarshal(scanner.Bytes(), &report); err != nil {
			continue
		}
		if fix, ok := report.fix(); ok {
			cb(fix)
		}
	}
}
