package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tempbeacon/beacon"
	c "tempbeacon/config"
	"tempbeacon/logging"
	pl "tempbeacon/platform"
	"tempbeacon/retain"
	"tempbeacon/telemetry"
	u "tempbeacon/util"
)

// webShutdownTimeout bounds how long an exit waits for in-flight API
// requests.
const webShutdownTimeout = 2 * time.Second

// App ties everything together: the platform (real hardware or the TUI
// simulation), the device state machine, the retained-state store,
// telemetry, the config watcher and the optional web API.
type App struct {
	ossignal  chan os.Signal
	cfile     string
	sim       bool
	logReady  bool
	config    *c.Config
	platform  pl.Platform
	device    *beacon.Device
	store     beacon.Store
	publisher *telemetry.Publisher
	watcher   *c.Watcher
	webserver *http.Server
	restarts  *u.AtomicEvent[string]
}

func NewApp(ossignal chan os.Signal) *App {
	return &App{
		ossignal: ossignal,
		restarts: u.NewAtomicEvent[string](),
	}
}

func main() {
	cfile := flag.String("config", "config.yml", "Path to the configuration file")
	sim := flag.Bool("sim", false, "Run the TUI simulation instead of the real hardware")
	flag.Parse()

	ossignal := make(chan os.Signal, 1)
	app := NewApp(ossignal)

	if err := app.initialise(*cfile, *sim); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start tempbeacon: %v\n", err)
		os.Exit(1)
	}

	signal.Notify(ossignal, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	app.run()
}

// initialise brings the full stack up in dependency order. It runs again
// after a SIGHUP or a power cycle, on a freshly read config.
func (a *App) initialise(cfile string, sim bool) error {
	a.cfile = cfile
	a.sim = sim

	conf, err := c.ReadConfig(cfile)
	if err != nil {
		return err
	}
	a.config = conf

	logsec := conf.Logging.HW
	if sim {
		logsec = conf.Logging.TUI
	}
	if !a.logReady {
		if err := logging.Init(sim, logsec.Level, logsec.Format, logsec.File != "", logsec.File); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		a.logReady = true
	} else if sim {
		// The TUI is about to be rebuilt; hold logs until its pane is back.
		logging.BufferOutput()
	}

	a.store = retain.NewStore(conf.Retain.Path)

	if sim {
		a.platform = pl.NewTUIPlatform(conf, a.ossignal, a.restarts)
	} else {
		a.platform = pl.NewHostPlatform(conf, a.restarts)
	}

	var sinks []beacon.Sink
	if conf.Telemetry.Enabled {
		a.publisher = telemetry.NewPublisher(conf.Telemetry, conf.BLE.DeviceName)
		sinks = append(sinks, a.publisher)
	}

	a.device = beacon.NewDevice(conf, a.platform, a.store, sinks...)
	a.platform.SetHandler(a.device.Session())

	if err := a.platform.Start(); err != nil {
		return fmt.Errorf("failed to start platform: %w", err)
	}
	<-a.platform.Ready()

	if a.publisher != nil {
		if err := a.publisher.Connect(); err != nil {
			slog.Error("Telemetry broker connection failed", "error", err)
		}
	}

	a.device.Start()

	watcher, err := c.NewWatcher(cfile)
	if err != nil {
		slog.Warn("Config hot-reload unavailable", "error", err)
	} else {
		a.watcher = watcher
	}

	if conf.Web.Enabled {
		a.startWebServer(conf.Web.Listen)
	}

	slog.Info("tempbeacon up", "name", conf.BLE.DeviceName, "sim", sim)
	return nil
}

// run is the application event loop: OS signals, restart requests from
// the power unit and config reloads from the watcher.
func (a *App) run() {
	for {
		select {
		case sig := <-a.ossignal:
			if sig == syscall.SIGHUP {
				slog.Info("Reload requested, restarting...")
				a.shutdown()
				if err := a.initialise(a.cfile, a.sim); err != nil {
					fmt.Fprintf(os.Stderr, "Failed to restart tempbeacon: %v\n", err)
					os.Exit(1)
				}
				continue
			}
			slog.Info("Exiting tempbeacon...")
			a.shutdown()
			logging.Close()
			os.Exit(0)
		case <-a.restarts.Channel():
			reason := a.restarts.Value()
			slog.Info("Restart requested", "reason", reason)
			a.shutdown()
			if reason == pl.RestartPowerCycle {
				// A real power cycle reboots the machine and loses the
				// tmpfs-backed state; the process analogue clears it.
				if err := a.store.Clear(); err != nil {
					slog.Error("Failed to clear retained state", "error", err)
				}
			}
			if err := a.initialise(a.cfile, a.sim); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to restart tempbeacon: %v\n", err)
				os.Exit(1)
			}
		case <-a.watcherUpdates():
			a.config = a.watcher.Updates.Value()
			a.device.ApplyRuntime(a.config)
		}
	}
}

// watcherUpdates is nil-safe: when the watcher could not be started the
// returned nil channel simply never fires.
func (a *App) watcherUpdates() <-chan struct{} {
	if a.watcher == nil {
		return nil
	}
	return a.watcher.Updates.Channel()
}

// shutdown tears the stack down in reverse order. Safe to call twice;
// everything it stops is nil-ed out.
func (a *App) shutdown() {
	if a.webserver != nil {
		ctx, cancel := context.WithTimeout(context.Background(), webShutdownTimeout)
		if err := a.webserver.Shutdown(ctx); err != nil {
			slog.Error("Web server shutdown failed", "error", err)
		}
		cancel()
		a.webserver = nil
	}
	if a.watcher != nil {
		a.watcher.Close()
		a.watcher = nil
	}
	if a.device != nil {
		a.device.Stop()
		a.device = nil
	}
	if a.platform != nil {
		a.platform.Stop()
		a.platform = nil
	}
	if a.publisher != nil {
		a.publisher.Close()
		a.publisher = nil
	}
}

func (a *App) startWebServer(listen string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/config", c.ConfigHandler(a.cfile))
	mux.HandleFunc("/api/status", a.device.StatusHandler())
	a.webserver = &http.Server{Addr: listen, Handler: mux}

	go func(srv *http.Server) {
		slog.Info("Web API listening", "addr", listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Web server failed", "error", err)
		}
	}(a.webserver)
}
