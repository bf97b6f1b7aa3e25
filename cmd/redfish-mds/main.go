package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/redfish/redfish/cluster"
	"github.com/redfish/redfish/config"
	"github.com/redfish/redfish/mdsclient"
	"github.com/redfish/redfish/mdsserver"
	"github.com/redfish/redfish/metrics"
	"github.com/redfish/redfish/msgr"
	"github.com/redfish/redfish/mstor"
	"github.com/redfish/redfish/recvpool"
	"github.com/redfish/redfish/rlog"
	"github.com/redfish/redfish/wire"
)

func main() {
	var (
		configPath = flag.String("config", "redfish.toml", "Path to the cluster config file")
		mid        = flag.Int("mid", 0, "This process's index into the config's mds[] array")
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
	if *mid < 0 || *mid >= len(cfg.MDS) {
		logger.Error("mid out of range", "mid", *mid, "num_mds", len(cfg.MDS))
		os.Exit(1)
	}
	self := cfg.MDS[*mid]

	store, err := mstor.Open(cfg.MstorPath, cfg.MstorCreate, 0755)
	if err != nil {
		logger.Error("failed to open metadata store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	cmap, err := cluster.FromConfig(cfg)
	if err != nil {
		logger.Error("failed to build cluster map", "error", err)
		os.Exit(1)
	}

	mtr := metrics.New()
	defer mtr.Stop()
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(metrics.NewRegistry(mtr))
	metricsSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	defer metricsSrv.Close()

	client := mdsclient.New(nil, logger, cmap, uint16(*mid))
	client.SetMetrics(mtr)
	defer client.Stop()

	srv := mdsserver.New(store, uint16(*mid), client.Primary)

	pool := recvpool.New(cfg.MstorIOThreads, srv.Handle)
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
	client.SetMessenger(m)

	logger.Info("mds ready", "mid", *mid, "port", self.Port, "metrics_port", cfg.MetricsPort)
	fmt.Printf("redfish-mds listening on :%d (mid=%d), metrics on :%d\n", self.Port, *mid, cfg.MetricsPort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")
}
