package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/redfish/redfish/config"
	"github.com/redfish/redfish/metrics"
	"github.com/redfish/redfish/msgr"
	"github.com/redfish/redfish/ostor"
	"github.com/redfish/redfish/osdserver"
	"github.com/redfish/redfish/recvpool"
	"github.com/redfish/redfish/rlog"
	"github.com/redfish/redfish/wire"
)

func main() {
	var (
		configPath = flag.String("config", "redfish.toml", "Path to the cluster config file")
		oid        = flag.Int("oid", 0, "This process's index into the config's osd[] array")
		verbose    = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	logConfig := rlog.DefaultConfig()
	if *verbose {
		logConfig.Level = rlog.LevelDebug
	}
	logger := rlog.New(logConfig)
	rlog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *oid < 0 || *oid >= len(cfg.OSD) {
		logger.Error("oid out of range", "oid", *oid, "num_osd", len(cfg.OSD))
		os.Exit(1)
	}
	self := cfg.OSD[*oid]

	timeo := time.Duration(cfg.OstorTimeo) * time.Second
	if timeo <= 0 {
		timeo = time.Minute
	}
	maxOpen := cfg.OstorMaxOpen
	if maxOpen <= 0 {
		maxOpen = 256
	}
	store, err := ostor.Open(cfg.OstorPath, maxOpen, timeo)
	if err != nil {
		logger.Error("failed to open chunk store", "error", err)
		os.Exit(1)
	}
	defer store.Shutdown()

	mtr := metrics.New()
	defer mtr.Stop()
	store.SetMetrics(mtr)
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(metrics.NewRegistry(mtr))
	metricsSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	defer metricsSrv.Close()

	srv := osdserver.New(store)

	pool := recvpool.New(8, srv.Handle)
	defer pool.Join()

	m := msgr.New(msgr.Config{Log: logger, Metrics: mtr})
	err = m.Listen(self.Port, func(tr *msgr.Transactor, msg wire.Message) msgr.Callback {
		return func(tr *msgr.Transactor, ev msgr.Event, msg wire.Message, err error) {
			if ev == msgr.EventRecv {
				pool.Push(tr, msg)
			}
		}
	})
	if err != nil {
		logger.Error("failed to listen", "error", err)
		os.Exit(1)
	}
	if err := m.Start(); err != nil {
		logger.Error("failed to start messenger", "error", err)
		os.Exit(1)
	}
	defer m.Shutdown()

	logger.Info("osd ready", "oid", *oid, "port", self.Port, "metrics_port", cfg.MetricsPort)
	fmt.Printf("redfish-osd listening on :%d (oid=%d), metrics on :%d\n", self.Port, *oid, cfg.MetricsPort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")
}
