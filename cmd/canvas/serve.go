package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/canvas/canvas"
	"github.com/hazyhaar/canvas/kit"
	"github.com/hazyhaar/canvas/mcpquic"
	"github.com/hazyhaar/canvas/observability"
	"github.com/hazyhaar/canvas/viewer"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the viewer server and the MCP tool transport",
		Long: `Start the viewer HTTP/WebSocket server and expose the canvas tools over the
selected MCP transport. With --mcp-transport stdio the process exits when
stdin closes.`,
		RunE: runServe,
	}

	d := canvas.DefaultConfig()
	f := cmd.Flags()
	f.String("host", d.Host, "viewer listen address")
	f.Int("port", d.Port, "viewer listen port")
	f.String("external-host", "", "host advertised in surface URLs (default: listen host, localhost for 0.0.0.0)")
	f.String("mcp-transport", d.MCP.Transport, "MCP transport (stdio, http, quic, none)")
	f.String("quic-addr", d.MCP.QUICAddr, "UDP address of the MCP QUIC listener")
	f.String("tls-cert", "", "PEM certificate for QUIC (self-signed when empty)")
	f.String("tls-key", "", "PEM private key for QUIC")
	f.Duration("ping-interval", d.Viewer.PingInterval, "WebSocket ping interval")
	f.Duration("write-timeout", d.Viewer.WriteTimeout, "WebSocket write timeout")
	f.Int("send-buffer", d.Viewer.SendBuffer, "queued messages per viewer before it is disconnected")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("canvas: fatal", "error", err)
		return err
	}
	return nil
}

func serve(ctx context.Context, cfg *canvas.Config, logger *slog.Logger) error {
	metrics := observability.NewMetrics()
	engine, err := canvas.New(cfg, logger, canvas.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer engine.Close()
	if err := engine.Start(ctx); err != nil {
		return err
	}

	mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "canvas", Version: Version}, nil)
	engine.RegisterMCP(mcpSrv)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errc := make(chan error, 3)

	opts := []viewer.Option{viewer.WithMetrics(metrics)}
	switch cfg.MCP.Transport {
	case "http":
		h := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpSrv }, nil)
		opts = append(opts, viewer.WithMCPHandler(h))
	case "quic":
		l, err := quicListener(cfg, mcpSrv, logger)
		if err != nil {
			return err
		}
		defer l.Close()
		go func() { errc <- ignoreCanceled(l.Serve(ctx)) }()
	case "stdio":
		go func() {
			err := mcpSrv.Run(kit.WithTransport(ctx, "stdio"), &mcp.StdioTransport{})
			logger.Info("canvas: stdio session ended")
			errc <- ignoreCanceled(err)
		}()
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           viewer.New(engine, logger, opts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
			return
		}
		errc <- nil
	}()
	logger.Info("canvas: running", "addr", addr, "mcp", cfg.MCP.Transport,
		"backend", cfg.Persistence.Backend, "surfaces", len(engine.ListSurfaces()))

	select {
	case <-ctx.Done():
		err = nil
	case err = <-errc:
	}
	logger.Info("canvas: shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancelShutdown()
	if serr := httpSrv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("canvas: http shutdown", "error", serr)
	}
	return err
}

func quicListener(cfg *canvas.Config, srv *mcp.Server, logger *slog.Logger) (*mcpquic.Listener, error) {
	var (
		tlsCfg *tls.Config
		err    error
	)
	if cfg.MCP.TLSCert != "" && cfg.MCP.TLSKey != "" {
		tlsCfg, err = mcpquic.LoadTLSConfig(cfg.MCP.TLSCert, cfg.MCP.TLSKey)
	} else {
		logger.Warn("canvas: QUIC using a self-signed certificate")
		tlsCfg, err = mcpquic.SelfSignedTLSConfig()
	}
	if err != nil {
		return nil, err
	}
	return mcpquic.NewListener(cfg.MCP.QUICAddr, tlsCfg, srv, logger)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
