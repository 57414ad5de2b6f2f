package statusfeed

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	MDNSServiceType = "_smartpos._tcp"
	MDNSDomain      = "local."
)

// ServerOptions configures Serve.
type ServerOptions struct {
	Listen     string
	MDNS       bool
	TerminalID string // mDNS instance name and TXT record
}

// Serve exposes the hub on /ws until ctx is cancelled. With MDNS set the
// endpoint is also advertised as _smartpos._tcp.
func Serve(ctx context.Context, h *Hub, opts ServerOptions) error {
	ln, err := net.Listen("tcp", opts.Listen)
	if err != nil {
		return fmt.Errorf("status feed listen: %w", err)
	}
	return serve(ctx, h, ln, opts)
}

func serve(ctx context.Context, h *Hub, ln net.Listener, opts ServerOptions) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("smartpos status feed\n"))
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	var (
		mdns *zeroconf.Server
		err  error
	)
	if opts.MDNS {
		port := ln.Addr().(*net.TCPAddr).Port
		txt := []string{"protocol=websocket", "path=/ws", "terminal=" + opts.TerminalID}
		mdns, err = zeroconf.Register("smartpos-"+opts.TerminalID, MDNSServiceType, MDNSDomain, port, txt, nil)
		if err != nil {
			h.logger.Warn("mDNS registration failed, discovery unavailable", "error", err)
		} else {
			h.logger.Info("mDNS service registered", "service", MDNSServiceType, "port", port)
		}
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		if mdns != nil {
			mdns.Shutdown()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			h.logger.Warn("status feed shutdown", "error", err)
		}
		h.CloseAll()
	}()

	h.logger.Info("status feed listening", "addr", ln.Addr().String())
	err = srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		<-stopped
		return nil
	}
	return err
}
