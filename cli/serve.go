package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	bridgeotel "github.com/petal-labs/mcpbridge/otel"
	"github.com/petal-labs/mcpbridge/server"
	"github.com/petal-labs/mcpbridge/status"
	"github.com/petal-labs/mcpbridge/tool"
)

const shutdownTimeout = 30 * time.Second

// NewServeCmd creates the "serve" subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the bridge HTTP server",
		Long: "Start the bridge HTTP server: the push channel on /sse, JSON-RPC requests on\n" +
			"POST /message and read-only introspection under /mcp.",
		RunE: runServe,
	}

	cmd.Flags().IntP("port", "p", 8080, "Listen port")
	cmd.Flags().String("host", "0.0.0.0", "Listen host")
	cmd.Flags().String("config", "", "Path to bridge config (default: ./mcpbridge.yaml, then ~/.mcpbridge/config.yaml; env MCPBRIDGE_CONFIG)")
	cmd.Flags().String("cors-origin", "*", "Allowed CORS origin")
	cmd.Flags().Int64("max-body", 1<<20, "Max request body size in bytes")
	cmd.Flags().Duration("read-timeout", 30*time.Second, "HTTP read timeout")
	cmd.Flags().Duration("write-timeout", 0, "HTTP write timeout (0 keeps push-channel streams open)")
	cmd.Flags().Duration("call-timeout", 0, "Bound on one tool invocation (0 = none)")
	cmd.Flags().Duration("request-timeout", 60*time.Second, "Bound on /health and /mcp requests")
	cmd.Flags().String("tls-cert", "", "TLS certificate file")
	cmd.Flags().String("tls-key", "", "TLS key file")
	cmd.Flags().String("token", "", "Bearer token required on /message and /mcp (env MCPBRIDGE_TOKEN)")
	cmd.Flags().Duration("heartbeat", 15*time.Second, "Push-channel heartbeat interval")
	cmd.Flags().Int("queue-size", 64, "Per-subscriber delivery queue size")
	cmd.Flags().String("otlp-endpoint", "", "OTLP/HTTP trace endpoint URL (tracing disabled when empty)")
	cmd.Flags().String("status-log-schedule", "", "Cron schedule for status log lines, e.g. \"@every 5m\"")
	cmd.Flags().String("conflict-policy", "", "Duplicate tool handling: fail | skip (default: config or fail)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	corsOrigin, _ := cmd.Flags().GetString("cors-origin")
	maxBody, _ := cmd.Flags().GetInt64("max-body")
	readTimeout, _ := cmd.Flags().GetDuration("read-timeout")
	writeTimeout, _ := cmd.Flags().GetDuration("write-timeout")
	callTimeout, _ := cmd.Flags().GetDuration("call-timeout")
	requestTimeout, _ := cmd.Flags().GetDuration("request-timeout")
	tlsCert, _ := cmd.Flags().GetString("tls-cert")
	tlsKey, _ := cmd.Flags().GetString("tls-key")
	heartbeat, _ := cmd.Flags().GetDuration("heartbeat")
	queueSize, _ := cmd.Flags().GetInt("queue-size")
	otlpEndpoint, _ := cmd.Flags().GetString("otlp-endpoint")
	statusSchedule, _ := cmd.Flags().GetString("status-log-schedule")
	token := flagOrEnv(cmd, "token", envToken)

	if (tlsCert == "") != (tlsKey == "") {
		return exitError(exitConfig, "--tls-cert and --tls-key must be set together")
	}

	logger, err := newLogger(cmd, cmd.ErrOrStderr())
	if err != nil {
		return exitError(exitConfig, "%v", err)
	}
	slog.SetDefault(logger)

	bc, err := loadBridgeConfig(cmd)
	if err != nil {
		return err
	}
	if bc.path != "" {
		logger.Info("loaded bridge config", "path", bc.path, "tools", len(bc.file.Tools))
	}
	specs, err := bc.file.HTTPToolSpecs()
	if err != nil {
		return exitError(exitConfig, "%v", err)
	}
	info := bc.serverInfo(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telemetry, err := bridgeotel.Setup(ctx, bridgeotel.Config{
		ServiceName:    info.Name,
		ServiceVersion: info.Version,
		OTLPEndpoint:   otlpEndpoint,
		Global:         true,
	})
	if err != nil {
		return exitError(exitConfig, "%v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	bridge, err := server.New(server.ServerConfig{
		Providers:      []tool.Provider{tool.HTTPProvider{Specs: specs, Logger: logger}},
		Inspector:      bc.file.InspectorEnabled(),
		ConflictPolicy: bc.policy,
		ServerInfo:     info,
		Endpoint:       bc.file.Server.Endpoint,
		CallTimeout:    callTimeout,
		RequestTimeout: requestTimeout,
		CORSOrigin:     corsOrigin,
		MaxBody:        maxBody,
		Token:          token,
		Heartbeat:      heartbeat,
		QueueSize:      queueSize,
		Metrics:        telemetry,
		RPCObserver:    telemetry.Observer(),
		HubObserver:    telemetry.Observer(),
		Tracer:         telemetry.Tracer(),
		Logger:         logger,
	})
	if err != nil {
		return exitError(exitConfig, "starting bridge: %v", err)
	}

	var statusLogger *status.Logger
	if strings.TrimSpace(statusSchedule) != "" {
		statusLogger, err = status.NewLogger(status.LoggerConfig{
			Reporter: bridge.Reporter(),
			Schedule: statusSchedule,
			Logger:   logger,
		})
		if err != nil {
			_ = bridge.Close()
			return exitError(exitConfig, "%v", err)
		}
	}

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           bridge.Handler(),
		ReadHeaderTimeout: readTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fmt.Fprintf(cmd.OutOrStdout(), "%s listening on %s (%d tools)\n", info.Name, addr, bridge.Registry().Len())
		var err error
		if tlsCert != "" {
			err = httpServer.ListenAndServeTLS(tlsCert, tlsKey)
		} else {
			err = httpServer.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	if statusLogger != nil {
		statusLogger.Start()
		statusLogger.LogOnce()
	}
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(cmd.OutOrStdout(), "Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if statusLogger != nil {
			errs = append(errs, statusLogger.Stop(shutdownCtx))
		}
		// Streams never finish on their own; end them so Shutdown can drain.
		errs = append(errs, bridge.Close())
		errs = append(errs, httpServer.Shutdown(shutdownCtx))
		tool.CloseIdleConnections()
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return exitError(exitRuntime, "server error: %v", err)
	}
	return nil
}
