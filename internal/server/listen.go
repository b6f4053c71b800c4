// ABOUTME: Listener factories for Run: a plain TCP address or a tsnet node
// ABOUTME: The tailnet node is started once and reused across listener restarts

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"
)

// TCPListener returns a ListenFunc binding addr.
func TCPListener(addr string) ListenFunc {
	return func(ctx context.Context) (net.Listener, error) {
		var lc net.ListenConfig
		ln, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("listen %s: %w", addr, err)
		}
		return ln, nil
	}
}

// TailnetOptions configures a tailnet node.
type TailnetOptions struct {
	Hostname  string
	AuthKey   string
	StateDir  string
	Ephemeral bool
	Port      int
	Logger    *slog.Logger
}

// Tailnet serves the IRC port on a tailnet instead of a local address.
type Tailnet struct {
	opts   TailnetOptions
	logger *slog.Logger

	mu  sync.Mutex
	srv *tsnet.Server
}

// NewTailnet prepares a node. Nothing is started until Listen.
func NewTailnet(opts TailnetOptions) *Tailnet {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Tailnet{opts: opts, logger: logger.With("component", "tailnet")}
}

// Listen brings the node up on first use and listens on the configured port.
func (t *Tailnet) Listen(ctx context.Context) (net.Listener, error) {
	srv, err := t.up(ctx)
	if err != nil {
		return nil, err
	}
	ln, err := srv.Listen("tcp", ":"+strconv.Itoa(t.opts.Port))
	if err != nil {
		return nil, fmt.Errorf("listening on tailscale port %d: %w", t.opts.Port, err)
	}
	return ln, nil
}

func (t *Tailnet) up(ctx context.Context) (*tsnet.Server, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.srv != nil {
		return t.srv, nil
	}

	stateDir, err := resolveStateDir(t.opts.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}
	authKey, err := resolveAuthKey(t.opts.AuthKey)
	if err != nil {
		return nil, err
	}

	srv := &tsnet.Server{
		Hostname:  t.opts.Hostname,
		Dir:       stateDir,
		Ephemeral: t.opts.Ephemeral,
		AuthKey:   authKey,
	}
	t.logger.Info("starting tailscale node", "hostname", t.opts.Hostname, "state_dir", stateDir, "ephemeral", t.opts.Ephemeral)
	status, err := srv.Up(ctx)
	if err != nil {
		_ = srv.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	t.logStatus(status)
	t.srv = srv
	return srv, nil
}

func (t *Tailnet) logStatus(status *ipnstate.Status) {
	var addr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		addr = status.TailscaleIPs[0].String()
	} else {
		t.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	t.logger.Info("tailscale node ready", "hostname", t.opts.Hostname, "tailscale_ip", addr, "dns_name", dnsName)
}

// Close stops the node if it was started.
func (t *Tailnet) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.srv == nil {
		return nil
	}
	err := t.srv.Close()
	t.srv = nil
	return err
}

func resolveStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(home, ".local", "share", "localslackirc", "tailscale"), nil
}

func resolveAuthKey(configured string) (string, error) {
	key := configured
	if key == "" {
		key = os.Getenv("TS_AUTHKEY")
	}
	if key == "" {
		return "", errors.New("tailscale auth key required: set tailscale.auth_key or the TS_AUTHKEY environment variable")
	}
	return key, nil
}
