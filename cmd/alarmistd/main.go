// Command alarmistd runs the alarm runtime as a standalone process: it
// loads a YAML startup document, wires the Store/Engine/Handler/Supervisor,
// and serves the REST/WebSocket and Prometheus surfaces until signalled to
// shut down.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"alarmist/internal/alarmid"
	"alarmist/internal/api"
	"alarmist/internal/config"
	"alarmist/internal/engine"
	"alarmist/internal/handler"
	"alarmist/internal/logger"
	"alarmist/internal/metrics"
	"alarmist/internal/remedy"
	"alarmist/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "alarmistd: failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&logger.Config{
		Level:  logger.ParseLevel(cfg.Logging.Level),
		Output: cfg.Logging.Output,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "alarmistd: failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	os.Exit(run(cfg, log))
}

// run wires every component and blocks until a shutdown signal arrives,
// returning the process exit code.
func run(cfg *config.Config, log logger.Logger) int {
	st := store.New(nil)
	sup := remedy.NewSupervisor(st, log)

	eng := engine.New(func(id alarmid.ID) (alarmid.State, interface{}) {
		return st.State(id)
	}, nil)

	h := handler.New(st, eng, sup, log)

	var mtr *metrics.Metrics
	if cfg.Metrics.Enabled {
		mtr = metrics.New()
		h.SetMetrics(mtr)
		sup.SetMetrics(mtr)
	}

	h.Start()
	defer h.Stop()

	initialAlarms, err := cfg.InitialAlarms()
	if err != nil {
		log.Fatal("alarmistd", fmt.Sprintf("invalid alarms section: %s", err))
		return 1
	}
	managedAlarms, err := cfg.CompiledManagedAlarms()
	if err != nil {
		log.Fatal("alarmistd", fmt.Sprintf("invalid managed_alarms section: %s", err))
		return 1
	}
	if err := h.Bootstrap(initialAlarms, managedAlarms); err != nil {
		log.Error("alarmistd", fmt.Sprintf("bootstrap failed: %s", err))
		return 1
	}

	overrides, err := cfg.AlarmLevelOverrides()
	if err != nil {
		log.Fatal("alarmistd", fmt.Sprintf("invalid alarm_levels section: %s", err))
		return 1
	}
	for _, o := range overrides {
		if err := h.SetAlarmLevel(o.ID, o.Level); err != nil {
			log.Warn("alarmistd", fmt.Sprintf("alarm_levels: %s", err), map[string]interface{}{"alarm_id": o.ID.String()})
		}
	}

	watcher, err := config.NewWatcher(configFlag(), func(fresh *config.Config) {
		reload(h, log, fresh)
	}, func(err error) {
		log.Warn("alarmistd", fmt.Sprintf("config reload failed: %s", err))
	})
	if err != nil {
		log.Warn("alarmistd", fmt.Sprintf("config hot-reload disabled: %s", err))
	} else {
		defer watcher.Close()
	}

	apiServer := api.NewServer(h, st)
	if mtr != nil {
		apiServer.SetMetrics(mtr)
	}
	router := http.NewServeMux()
	apiServer.Routes(router)
	apiServer.Run()
	defer apiServer.Close()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{Addr: addr, Handler: router}
	go func() {
		log.Info("alarmistd", fmt.Sprintf("REST/WebSocket server listening on %s", addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("alarmistd", fmt.Sprintf("http server error: %s", err))
		}
	}()

	metricsCtx, cancelMetrics := context.WithCancel(context.Background())
	defer cancelMetrics()
	if mtr != nil {
		metricsSrv := metrics.NewServer(metrics.ServerConfig{
			Enabled: true,
			Address: "0.0.0.0",
			Port:    cfg.Metrics.Port,
			Path:    "/metrics",
			Timeout: 30 * time.Second,
		}, mtr)
		go func() {
			log.Info("alarmistd", fmt.Sprintf("metrics server listening on %s", metricsSrv.Address()))
			if err := metricsSrv.Start(metricsCtx); err != nil {
				log.Error("alarmistd", fmt.Sprintf("metrics server error: %s", err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("alarmistd", fmt.Sprintf("received signal %v, shutting down", sig))

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn("alarmistd", fmt.Sprintf("http server shutdown: %s", err))
	}
	cancelMetrics()
	sup.Stop()

	log.Info("alarmistd", "shutdown complete")
	return 0
}

// reload re-registers the managed_alarms and alarm_levels sections of a
// freshly parsed config, letting operators adjust thresholds and conditions
// without a restart.
func reload(h *handler.Handler, log logger.Logger, cfg *config.Config) {
	managed, err := cfg.CompiledManagedAlarms()
	if err != nil {
		log.Warn("alarmistd", fmt.Sprintf("config reload: %s", err))
		return
	}
	for _, m := range managed {
		if err := h.AddManagedAlarm(m.ID, m.Compiled, m.Level); err != nil {
			log.Warn("alarmistd", fmt.Sprintf("config reload: add_managed_alarm: %s", err), map[string]interface{}{"alarm_id": m.ID.String()})
		}
	}
	overrides, err := cfg.AlarmLevelOverrides()
	if err != nil {
		log.Warn("alarmistd", fmt.Sprintf("config reload: %s", err))
		return
	}
	for _, o := range overrides {
		if err := h.SetAlarmLevel(o.ID, o.Level); err != nil {
			log.Warn("alarmistd", fmt.Sprintf("config reload: set_alarm_level: %s", err), map[string]interface{}{"alarm_id": o.ID.String()})
		}
	}
	log.Info("alarmistd", "config reloaded")
}

// configFlag re-reads the -config flag value; flag.Parse has already run by
// the time run is called.
func configFlag() string {
	return flag.Lookup("config").Value.String()
}
