// Package control implements HTTPService: the HTTP(S) control/status plane
// described in spec.md §4.9.
package control

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"

	"golang.org/x/net/netutil"

	"github.com/akfullfo/taskforce/internal/config"
	"github.com/akfullfo/taskforce/internal/legion"
)

// maxConnsPerListener caps concurrent in-flight connections per listener
// (SPEC_FULL.md §3, golang.org/x/net/netutil).
const maxConnsPerListener = 256

// Service is one HTTP(S) listener (spec.md §4.9).
type Service struct {
	cfg    config.HTTPConfig
	legion *legion.Legion

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	started  bool
}

// NewService constructs a Service bound to l, not yet listening.
func NewService(cfg config.HTTPConfig, l *legion.Legion) *Service {
	return &Service{cfg: cfg, legion: l}
}

// Config builds an HTTPConfig for a CLI-supplied (`--http`) listener, as
// opposed to one named in the config document's `settings.http` (spec.md
// §6 external CLI surface).
func Config(address, certfile string, control bool) config.HTTPConfig {
	return config.HTTPConfig{Address: address, Certfile: certfile, Control: control}
}

// isUnixAddress reports whether addr names a Unix-domain socket path rather
// than a `[host][:port]` TCP address (spec.md §4.9: "an absolute path
// containing `/`").
func isUnixAddress(addr string) bool {
	return strings.Contains(addr, "/")
}

// Start begins listening and serving. It is safe to call repeatedly; the
// Legion's idle pass retries Start on failure (spec.md §7 WatchFailure/
// recoverable startup errors).
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	network := "tcp"
	addr := s.cfg.Address
	if isUnixAddress(addr) {
		network = "unix"
		os.Remove(addr)
	}

	ln, err := net.Listen(network, addr)
	if err != nil {
		return fmt.Errorf("control: listen %s: %w", addr, err)
	}
	if network == "unix" {
		os.Chmod(addr, 0600)
	}
	ln = netutil.LimitListener(ln, maxConnsPerListener)

	if s.cfg.Certfile != "" {
		cert, err := tls.LoadX509KeyPair(s.cfg.Certfile, s.cfg.Certfile)
		if err != nil {
			ln.Close()
			return fmt.Errorf("control: load certificate %s: %w", s.cfg.Certfile, err)
		}
		tlsConfig := &tls.Config{
			Certificates:             []tls.Certificate{cert},
			MinVersion:               tls.VersionTLS12,
			PreferServerCipherSuites: true,
			CipherSuites:             curatedCipherSuites,
		}
		ln = tls.NewListener(ln, tlsConfig)
	}

	mux := newRouter(s.legion, s.cfg.Control)
	s.server = &http.Server{Handler: mux}
	s.listener = ln
	s.started = true

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("control: serve error", "address", s.cfg.Address, "error", err)
		}
	}()

	slog.Info("control: listening", "address", s.cfg.Address, "control", s.cfg.Control, "tls", s.cfg.Certfile != "")
	return nil
}

// Stop closes the listener; Unix-domain socket files are cleaned up (spec.md
// §6 "Persisted state").
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	err := s.listener.Close()
	if isUnixAddress(s.cfg.Address) {
		os.Remove(s.cfg.Address)
	}
	s.started = false
	return err
}

// curatedCipherSuites disables SSLv2/SSLv3-era and weak ciphers, preferring
// ECDHE (spec.md §4.9, §9: "disable SSLv2/SSLv3, prefer ECDHE, forbid
// NULL/anon/export/RC4/DES/MD5").
var curatedCipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
}
