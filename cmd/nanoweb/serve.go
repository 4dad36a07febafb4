package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/xDarkicex/nanoweb"
	"github.com/xDarkicex/nanoweb/internal/admin"
	"github.com/xDarkicex/nanoweb/internal/filestore"
)

type serveOptions struct {
	configPath string
	address    string
	port       int
	root       string
	images     string
	adminAddr  string
	user       string
	password   string
	logLevel   string
	logFormat  string

	s3Bucket   string
	s3Prefix   string
	s3Region   string
	s3Endpoint string
}

func serveCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the file manager",
		Long: `Start the file manager.

Settings are read from --config (JSON) when given; flags override them.
Files are kept in --root unless --s3-bucket selects an S3 bucket.

Examples:
  nanoweb serve --port 8001 --root ./files
  nanoweb serve --config nanoweb.json --user foo --password bar
  nanoweb serve --s3-bucket files --s3-endpoint http://localhost:9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "JSON config file")
	f.StringVarP(&opts.address, "address", "a", nanoweb.DefaultAddress, "Address to bind")
	f.IntVarP(&opts.port, "port", "p", nanoweb.DefaultPort, "Port to listen on")
	f.StringVar(&opts.root, "root", ".", "Directory holding managed files")
	f.StringVar(&opts.images, "images", "images", "Directory served under /images")
	f.StringVar(&opts.adminAddr, "admin-addr", "", "Address for /metrics and /healthz (disabled when empty)")
	f.StringVar(&opts.user, "user", "", "Basic auth user for /api (auth disabled when empty)")
	f.StringVar(&opts.password, "password", "", "Basic auth password for /api")
	f.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	f.StringVar(&opts.logFormat, "log-format", "console", "Log format (console, json)")
	f.StringVar(&opts.s3Bucket, "s3-bucket", "", "Store files in this S3 bucket")
	f.StringVar(&opts.s3Prefix, "s3-prefix", "", "Key prefix inside the bucket")
	f.StringVar(&opts.s3Region, "s3-region", "", "S3 region (default AWS_REGION or us-east-1)")
	f.StringVar(&opts.s3Endpoint, "s3-endpoint", "", "S3-compatible endpoint URL")

	return cmd
}

func newLogger(w io.Writer, level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

func loadConfig(cmd *cobra.Command, opts serveOptions) (nanoweb.Config, error) {
	cfg := nanoweb.DefaultConfig()
	if opts.configPath != "" {
		var err error
		if cfg, err = nanoweb.LoadConfig(opts.configPath); err != nil {
			return cfg, err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("address") || opts.configPath == "" {
		cfg.Address = opts.address
	}
	if flags.Changed("port") || opts.configPath == "" {
		cfg.Port = opts.port
	}
	return cfg, nil
}

func newStore(opts serveOptions) (filestore.Store, error) {
	if opts.s3Bucket != "" {
		client := filestore.NewS3Client(filestore.S3Options{
			Region:    opts.s3Region,
			Endpoint:  opts.s3Endpoint,
			PathStyle: opts.s3Endpoint != "",
		})
		return filestore.NewS3Store(client, opts.s3Bucket, opts.s3Prefix), nil
	}
	return filestore.NewDiskStore(opts.root)
}

func runServe(cmd *cobra.Command, opts serveOptions) error {
	log, err := newLogger(cmd.ErrOrStderr(), opts.logLevel, opts.logFormat)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	store, err := newStore(opts)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	router := nanoweb.New(nanoweb.WithConfig(cfg))
	newRouter(router, appOptions{
		Store:     store,
		ImagesDir: opts.images,
		User:      opts.user,
		Password:  opts.password,
		WebSocket: cfg.WebSocket,
		Log:       log,
	})
	srv := nanoweb.NewServer(router, cfg,
		nanoweb.WithLogger(log),
		nanoweb.WithMetrics(nanoweb.NewMetrics(nanoweb.WithRegistry(reg))),
	)

	var adm *admin.Server
	errCh := make(chan error, 2)
	if opts.adminAddr != "" {
		adm = admin.New(opts.adminAddr, reg, log)
		go func() { errCh <- adm.ListenAndServe() }()
	}
	go func() { errCh <- srv.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, nanoweb.ErrServerClosed) {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if adm != nil {
		adm.Drain()
		defer adm.Shutdown(ctx)
	}
	return srv.Shutdown(ctx)
}
