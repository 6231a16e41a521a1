package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/iotaledger/product-core-sub000/internal/audit"
	"github.com/iotaledger/product-core-sub000/internal/auth"
	"github.com/iotaledger/product-core-sub000/internal/capability"
	"github.com/iotaledger/product-core-sub000/internal/config"
	"github.com/iotaledger/product-core-sub000/internal/counter"
	"github.com/iotaledger/product-core-sub000/internal/httpapi"
	"github.com/iotaledger/product-core-sub000/internal/obs"
	"github.com/iotaledger/product-core-sub000/internal/rolemap"
	pgstore "github.com/iotaledger/product-core-sub000/internal/store/pg"
	"github.com/iotaledger/product-core-sub000/internal/stream"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:           "product-core-api",
		Short:         "Serve counters guarded by capability-based role maps over HTTP and gRPC",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	persistent := cmd.PersistentFlags()
	persistent.StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	persistent.String("token-secret", "", "HMAC secret for capability tokens and caller assertions")
	_ = v.BindPFlag("token_secret", persistent.Lookup("token-secret"))

	flags := cmd.Flags()
	flags.String("http-addr", ":8080", "HTTP listen address")
	flags.String("grpc-addr", ":9090", "gRPC listen address")
	flags.String("pg-dsn", "", "PostgreSQL DSN; counters stay in memory when empty")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	for key, flag := range map[string]string{
		"http_addr": "http-addr",
		"grpc_addr": "grpc-addr",
		"pg_dsn":    "pg-dsn",
		"log_level": "log-level",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}

	cmd.AddCommand(newCallerTokenCmd(v, &cfgFile))
	return cmd
}

// newCallerTokenCmd mints a caller assertion for an address that was authenticated out of
// band. Clients send it as X-Caller-Token or in the caller_token field of access checks.
func newCallerTokenCmd(v *viper.Viper, cfgFile *string) *cobra.Command {
	var (
		address string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "caller-token",
		Short: "Sign a caller assertion for an address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, *cfgFile)
			if err != nil {
				return err
			}
			signer, err := auth.NewSigner([]byte(cfg.TokenSecret), cfg.TokenIssuer)
			if err != nil {
				return err
			}
			token, err := signer.SignCaller(capability.Address(address), ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "address the assertion vouches for")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultCallerTTL, "lifetime of the assertion")
	_ = cmd.MarkFlagRequired("address")
	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	obs.Init()
	obs.InitBuildInfo(version, commit)
	if err := obs.SetLevel(cfg.LogLevel); err != nil {
		return err
	}
	logger := obs.Logger()
	defer func() { _ = logger.Sync() }()

	signer, err := auth.NewSigner([]byte(cfg.TokenSecret), cfg.TokenIssuer)
	if err != nil {
		return err
	}

	events := stream.New(cfg.StreamBuffer)
	observers := rolemap.MultiObserver{audit.Observer(), events, obs.EventObserver()}
	var (
		probe       httpapi.ReadyProbe
		counterOpts []counter.Option
		apiOpts     = []httpapi.Option{
			httpapi.WithStream(events),
			httpapi.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
			httpapi.WithMaxBodyBytes(cfg.MaxBodyBytes),
			httpapi.WithCORSOrigins(cfg.CORSOrigins),
		}
	)
	if cfg.PGDSN != "" {
		store, err := pgstore.Open(cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer store.Close()
		probe.DB = store.DB()
		observers = append(observers, store.EventLog())
		counterOpts = append(counterOpts, counter.WithStore(store))
		apiOpts = append(apiOpts, httpapi.WithEventLog(store))
	}
	counterOpts = append(counterOpts, counter.WithObserver(observers))
	counters := counter.NewInMemory(counterOpts...)

	api := httpapi.New(probe, version, counters, signer, apiOpts...)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	access := httpapi.NewGRPCServer(probe, version, counters, signer, nil)
	grpcSrv := access.Server()
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	errc := make(chan error, 2)
	go func() {
		logger.Info("http_listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		logger.Info("grpc_listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcSrv.Serve(lis); err != nil {
			errc <- fmt.Errorf("grpc: %w", err)
		}
	}()
	go watchReadiness(ctx, access)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errc:
	}
	logger.Info("shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	access.Shutdown()
	_ = srv.Shutdown(shutdownCtx)
	stopped := make(chan struct{})
	go func() {
		grpcSrv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		grpcSrv.Stop()
	}
	logger.Info("stopped")
	return runErr
}

func watchReadiness(ctx context.Context, access *httpapi.GRPCServer) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := access.UpdateReadiness(checkCtx); err != nil {
			obs.Logger().Warn("not_ready", zap.Error(err))
		}
		cancel()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
