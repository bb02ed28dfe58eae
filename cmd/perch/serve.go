package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/perchlabs/perch/internal/api"
	"github.com/perchlabs/perch/internal/config"
	"github.com/perchlabs/perch/internal/fed"
	"github.com/perchlabs/perch/internal/logger"
	"github.com/perchlabs/perch/internal/mcpserver"
	"github.com/perchlabs/perch/internal/session"
	"github.com/perchlabs/perch/internal/ticket"
	"github.com/perchlabs/perch/internal/transport"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the perch server",
		RunE:  runServe,
	}

	flags := cmd.Flags()
	flags.String("config", "", "config file path")
	flags.String("bind", "", "HTTP listen address (default 127.0.0.1:7171)")
	flags.String("hostname", "", "hostname advertised to federation peers")
	flags.String("token", "", "bearer token; empty leaves the API open")
	flags.Bool("ephemeral", false, "shut down when the last session ends")
	flags.String("tls-cert", "", "TLS certificate chain (PEM)")
	flags.String("tls-key", "", "TLS private key (PEM)")
	flags.String("federation-config", "", "federation backends file, watched for changes")
	flags.Int("max-sessions", 0, "session cap (default 64)")
	flags.String("log-level", "", "debug, info, warn, or error")
	flags.String("log-file", "", "also append logs to this file")
	flags.StringSlice("allowed-origin", nil, "origin allowed on websocket upgrades (repeatable)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if _, err := config.EnsureRuntimeDir(); err != nil {
		return fmt.Errorf("prepare runtime dir: %w", err)
	}

	// One server per instance name. The lock is released by the OS on
	// crash, so a dead instance never wedges its name.
	lockPath, err := config.LockPath(cfg.Server.Name)
	if err != nil {
		return err
	}
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("instance %q is already running (lock held at %s)", cfg.Server.Name, lockPath)
	}
	defer lock.Unlock()

	sockPath := cfg.Server.Socket
	if sockPath == "" {
		sockPath, err = config.SocketPath(cfg.Server.Name)
		if err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := session.NewRegistry(cfg.Server.MaxSessions)
	defer reg.Drain()

	tickets := ticket.NewStore()

	serverID := uuid.NewString()
	mgr := fed.NewManager(fed.NewRegistry(), serverID, cfg.Auth.Token, cfg.Federation)
	defer mgr.ShutdownAll()

	if cfg.Federation.ConfigPath != "" {
		ff, err := config.LoadFederation(cfg.Federation.ConfigPath)
		if err != nil {
			return err
		}
		mgr.Apply(ctx, ff)
		go func() {
			err := config.WatchFederation(ctx, cfg.Federation.ConfigPath, func(ff *config.FederationFile) {
				mgr.Apply(ctx, ff)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("federation watch stopped", "error", err)
			}
		}()
	}

	st := api.NewState(cfg, reg, tickets, mgr, cfg.Server.Hostname)
	// The fed manager refuses to dial itself by server id; both sides
	// must agree on what that id is.
	st.ServerID = serverID

	httpSrv := &http.Server{
		Addr:              cfg.Server.Bind,
		Handler:           st.Handler(mcpserver.NewHandler(reg, cfg)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	httpErr := make(chan error, 1)
	go func() {
		if cfg.Server.TLSCert != "" {
			cert, err := tls.LoadX509KeyPair(cfg.Server.TLSCert, cfg.Server.TLSKey)
			if err != nil {
				httpErr <- fmt.Errorf("load tls keypair: %w", err)
				return
			}
			httpSrv.TLSConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
			logger.Info("listening", "addr", cfg.Server.Bind, "tls", true)
			httpErr <- httpSrv.ListenAndServeTLS("", "")
			return
		}
		logger.Info("listening", "addr", cfg.Server.Bind, "tls", false)
		httpErr <- httpSrv.ListenAndServe()
	}()

	unixSrv := transport.NewServer(reg, sockPath, cfg.Server.Scrollback)
	unixErr := make(chan error, 1)
	go func() {
		logger.Info("instance socket ready", "socket", sockPath, "instance", cfg.Server.Name)
		unixErr <- unixSrv.ListenAndServe(ctx)
	}()

	if cfg.Server.Ephemeral {
		go superviseEphemeral(ctx, reg, stop)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-httpErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case err := <-unixErr:
		if err != nil {
			return fmt.Errorf("instance socket: %w", err)
		}
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpSrv.Shutdown(shutCtx)
	return nil
}

// superviseEphemeral reaps sessions whose child exited and shuts the
// server down once the registry empties after having held at least one
// session.
func superviseEphemeral(ctx context.Context, reg *session.Registry, shutdown func()) {
	sub := reg.Subscribe(16)
	defer reg.Unsubscribe(sub)

	seen := false
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			switch ev.Kind {
			case session.EventCreated:
				seen = true
			case session.EventExited:
				reg.Remove(ev.Name)
			}
			if seen && reg.Len() == 0 {
				logger.Info("last session ended, shutting down", "reason", "ephemeral")
				shutdown()
				return
			}
		}
	}
}

// loadConfig builds the effective config: file (or defaults), then
// environment, then flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()

	var cfg *config.Config
	if path, _ := flags.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
		cfg.ApplyEnv()
	}

	if flags.Changed("server-name") {
		cfg.Server.Name, _ = flags.GetString("server-name")
	}
	if v, _ := flags.GetString("socket"); v != "" {
		cfg.Server.Socket = v
	}
	if v, _ := flags.GetString("bind"); v != "" {
		cfg.Server.Bind = v
	}
	if v, _ := flags.GetString("hostname"); v != "" {
		cfg.Server.Hostname = v
	}
	if v, _ := flags.GetString("token"); v != "" {
		cfg.Auth.Token = v
	}
	if v, _ := flags.GetBool("ephemeral"); v {
		cfg.Server.Ephemeral = true
	}
	if v, _ := flags.GetString("tls-cert"); v != "" {
		cfg.Server.TLSCert = v
	}
	if v, _ := flags.GetString("tls-key"); v != "" {
		cfg.Server.TLSKey = v
	}
	if v, _ := flags.GetString("federation-config"); v != "" {
		cfg.Federation.ConfigPath = v
	}
	if v, _ := flags.GetInt("max-sessions"); v > 0 {
		cfg.Server.MaxSessions = v
	}
	if v, _ := flags.GetString("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	if v, _ := flags.GetString("log-file"); v != "" {
		cfg.Logging.File = v
	}
	if v, _ := flags.GetStringSlice("allowed-origin"); len(v) > 0 {
		cfg.Auth.AllowedOrigins = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
