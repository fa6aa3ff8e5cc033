package simulate

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli"

	"github.com/rocketbitz/fabric-errd/config"
	"github.com/rocketbitz/fabric-errd/internal/log"
	"github.com/rocketbitz/fabric-errd/internal/simulator"
)

// loadConfig applies the command flags over the config file or the default
// configuration.
func loadConfig(cliContext *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := cliContext.String("config"); path != "" {
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return nil, err
		}
	}
	if cliContext.IsSet("metrics-address") {
		cfg.MetricsAddress = cliContext.String("metrics-address")
	}
	if cliContext.IsSet("history-db") {
		cfg.HistoryFile = cliContext.String("history-db")
	}
	if cliContext.IsSet("rounds") {
		cfg.Rounds = cliContext.Int("rounds")
	}
	if lvl := cliContext.String("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	return cfg, cfg.Validate()
}

func Command(cliContext *cli.Context) error {
	cfg, err := loadConfig(cliContext)
	if err != nil {
		return err
	}

	zapLvl, err := log.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log.SetLogger(log.CreateLogger(zapLvl, cfg.LogFile))
	defer func() {
		_ = log.Logger.Sync()
	}()

	promReg := prometheus.NewRegistry()
	s, err := simulator.New(cfg, simulator.WithLogger(log.Logger), simulator.WithRegisterer(promReg))
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Logger.Warnw("failed to close simulator", "error", err)
		}
	}()

	rootCtx, rootCancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer rootCancel()

	if cfg.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.MetricsAddress, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Logger.Infow("serving metrics", "address", cfg.MetricsAddress)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Logger.Errorw("metrics server failed", "error", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	log.Logger.Infow("starting simulation",
		"device", cfg.Device,
		"consumers", len(cfg.Consumers),
		"faults", len(cfg.Faults),
		"interval", cfg.InjectInterval.Duration,
		"history", cfg.HistoryFile,
	)
	return s.Run(rootCtx)
}
