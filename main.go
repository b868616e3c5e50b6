package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/thushan/glide/internal/config"
	"github.com/thushan/glide/internal/engine"
	"github.com/thushan/glide/internal/env"
	"github.com/thushan/glide/internal/logger"
	"github.com/thushan/glide/internal/stats"
	"github.com/thushan/glide/internal/util"
	"github.com/thushan/glide/internal/version"
	"github.com/thushan/glide/pkg/container"
	"github.com/thushan/glide/pkg/format"
	"github.com/thushan/glide/pkg/nerdstats"
	"github.com/thushan/glide/pkg/profiler"
)

func main() {
	startTime := time.Now()
	vlog := log.New(log.Writer(), "", 0)

	flags := parseFlags()
	if flags.help {
		flags.set.Usage()
		os.Exit(0)
	}
	if flags.version {
		version.PrintVersionInfo(true, vlog)
		os.Exit(0)
	}

	version.PrintVersionInfo(false, vlog)

	// setup: logging with styled logger
	lcfg := buildLoggerConfig()
	logInstance, styledLogger, cleanup, err := logger.NewWithTheme(lcfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	slog.SetDefault(logInstance)

	styledLogger.Info("Initialising", "version", version.Version, "pid", os.Getpid())
	if container.IsContainerised() {
		styledLogger.Info("Container environment detected")
	}

	if env.GetEnvBoolOrDefault("GLIDE_PROFILER", false) {
		profiler.InitialiseProfiler()
	}

	cfg, err := config.Load(func() {
		// The engine never reconfigures live; a change just gets logged so
		// the operator knows a restart is needed to pick it up.
		styledLogger.Warn("Configuration file changed; restart to apply")
	})
	if err != nil {
		logger.FatalWithLogger(logInstance, "Failed to load configuration", "error", err)
	}
	flags.apply(cfg)

	warnings, err := cfg.Validate()
	if err != nil {
		logger.FatalWithLogger(logInstance, "Invalid configuration", "error", err)
	}
	for _, w := range warnings {
		styledLogger.Warn(w)
	}
	if err := util.ValidateIPv4(cfg.Server.Host); err != nil {
		logger.FatalWithLogger(logInstance, "Invalid listen address", "error", err)
	}
	if err := util.ValidateIPv4(cfg.Backend.Host); err != nil {
		logger.FatalWithLogger(logInstance, "Invalid backend address", "error", err)
	}

	// Writing to a peer-closed socket must surface as EPIPE from the
	// syscall, not kill the process.
	signal.Ignore(syscall.SIGPIPE)

	// setup: graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		styledLogger.Info("Shutdown signal received", "signal", sig.String())
		cancel()
	}()

	collector := stats.NewCollector()
	proxy, err := engine.New(cfg, styledLogger, collector)
	if err != nil {
		logger.FatalWithLogger(logInstance, "Failed to initialise proxy", "error", err)
	}

	styledLogger.InfoWithEndpoint("Listening on", util.HostPort(cfg.Server.Host, proxy.ListenPort()),
		"mode", cfg.Proxy.Mode)
	styledLogger.InfoWithEndpoint("Forwarding to", util.HostPort(cfg.Backend.Host, cfg.Backend.Port))

	if err := proxy.Run(ctx); err != nil {
		proxy.Shutdown()
		logger.FatalWithLogger(logInstance, "Proxy loop failed", "error", err)
	}

	proxy.Shutdown()
	reportProxyStats(styledLogger, collector, cfg.Proxy.Mode)

	if cfg.Engineering.ShowNerdStats {
		reportProcessStats(styledLogger, startTime)
	}

	styledLogger.Info("Glide has shutdown")
}

type cliFlags struct {
	set *flag.FlagSet

	listen      string
	port        int
	backend     string
	backendPort int
	mode        string
	help        bool
	version     bool
}

func parseFlags() *cliFlags {
	f := &cliFlags{set: flag.NewFlagSet("glide", flag.ExitOnError)}

	f.set.StringVarP(&f.listen, "listen", "l", config.DefaultListenHost, "Listen address (IPv4 literal)")
	f.set.IntVarP(&f.port, "port", "p", config.DefaultListenPort, "Listen port (1-65535)")
	f.set.StringVarP(&f.backend, "backend", "b", config.DefaultBackendHost, "Backend address (IPv4 literal)")
	f.set.IntVarP(&f.backendPort, "backend-port", "P", config.DefaultBackendPort, "Backend port (1-65535)")
	f.set.StringVarP(&f.mode, "mode", "m", config.ModeHTTP, "Proxy mode: tcp or http")
	f.set.BoolVarP(&f.help, "help", "h", false, "Show this help message")
	f.set.BoolVar(&f.version, "version", false, "Print version information and exit")

	f.set.Usage = func() {
		fmt.Printf("Usage: %s [OPTIONS]\n\n", version.Name)
		fmt.Println("High-performance reverse proxy using edge-triggered I/O.")
		fmt.Println()
		fmt.Println("Options:")
		f.set.PrintDefaults()
		fmt.Println()
		fmt.Println("Modes:")
		fmt.Println("  tcp  - Raw TCP proxy (fast, no protocol awareness)")
		fmt.Println("  http - HTTP-aware proxy (keep-alive, validation)")
	}

	_ = f.set.Parse(os.Args[1:])
	return f
}

// apply lays the command line over whatever the file and environment
// provided; an explicitly set flag always wins.
func (f *cliFlags) apply(cfg *config.Config) {
	if f.set.Changed("listen") {
		cfg.Server.Host = f.listen
	}
	if f.set.Changed("port") {
		cfg.Server.Port = f.port
	}
	if f.set.Changed("backend") {
		cfg.Backend.Host = f.backend
	}
	if f.set.Changed("backend-port") {
		cfg.Backend.Port = f.backendPort
	}
	if f.set.Changed("mode") {
		cfg.Proxy.Mode = f.mode
	}
}

func reportProxyStats(logger *logger.StyledLogger, collector *stats.Collector, mode string) {
	snap := collector.Snapshot()

	logger.Info("Proxy Statistics",
		"total_connections", format.Count(snap.TotalConnections),
		"active_connections", snap.ActiveConnections,
		"rejected_connections", snap.RejectedConnections,
		"bytes_received", format.Bytes(util.SafeUint64(snap.BytesReceived)),
		"bytes_sent", format.Bytes(util.SafeUint64(snap.BytesSent)),
		"errors", snap.Errors,
	)

	if mode != config.ModeHTTP {
		return
	}

	args := []any{
		"requests_total", format.Count(snap.RequestsTotal),
		"requests_malformed", snap.RequestsMalformed,
		"keep_alive_reused", format.Count(snap.KeepAliveReused),
	}
	for _, mc := range snap.RequestsByMethod {
		args = append(args, "requests_"+mc.Method, mc.Count)
	}
	logger.Info("HTTP Statistics", args...)
}

func reportProcessStats(logger *logger.StyledLogger, startTime time.Time) {
	runtime.GC()

	stats := nerdstats.Snapshot(startTime)

	logger.Info("Process Memory Stats",
		"heap_alloc", format.Bytes(stats.HeapAlloc),
		"heap_sys", format.Bytes(stats.HeapSys),
		"heap_inuse", format.Bytes(stats.HeapInuse),
		"heap_released", format.Bytes(stats.HeapReleased),
		"stack_inuse", format.Bytes(stats.StackInuse),
		"total_alloc", format.Bytes(stats.TotalAlloc),
		"memory_pressure", stats.GetMemoryPressure(),
	)

	if stats.NumGC > 0 {
		logger.Info("Garbage Collection Stats",
			"num_gc_cycles", stats.NumGC,
			"last_gc", stats.LastGC.Format(time.RFC3339),
			"total_gc_time", format.Duration(stats.TotalGCTime),
			"gc_cpu_fraction", fmt.Sprintf("%.4f%%", stats.GCCPUFraction*100),
		)
	}

	logger.Info("Runtime Stats",
		"uptime", format.Duration(stats.Uptime),
		"goroutines", stats.NumGoroutines,
		"go_version", stats.GoVersion,
		"num_cpu", stats.NumCPU,
		"gomaxprocs", stats.GOMAXPROCS,
	)
}

// buildLoggerConfig creates logger config from environment variables with defaults
func buildLoggerConfig() *logger.Config {
	return &logger.Config{
		Level:      env.GetEnvOrDefault("GLIDE_LOG_LEVEL", "info"),
		FileOutput: env.GetEnvBoolOrDefault("GLIDE_FILE_OUTPUT", false),
		LogDir:     env.GetEnvOrDefault("GLIDE_LOG_DIR", "./logs"),
		MaxSize:    env.GetEnvIntOrDefault("GLIDE_MAX_SIZE", 100),
		MaxBackups: env.GetEnvIntOrDefault("GLIDE_MAX_BACKUPS", 5),
		MaxAge:     env.GetEnvIntOrDefault("GLIDE_MAX_AGE", 30),
		PrettyLogs: env.GetEnvBoolOrDefault("GLIDE_PRETTY_LOGS", util.IsTerminal()),
		Theme:      env.GetEnvOrDefault("GLIDE_THEME", "default"),
	}
}
