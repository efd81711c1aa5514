// Command bodesweep measures the frequency response of a device under test
// with a function generator and a two channel oscilloscope.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rjboer/GoBode/internal/discovery"
	"github.com/rjboer/GoBode/internal/generator"
	"github.com/rjboer/GoBode/internal/logging"
	"github.com/rjboer/GoBode/internal/mdns"
	"github.com/rjboer/GoBode/internal/report"
	"github.com/rjboer/GoBode/internal/scope"
	"github.com/rjboer/GoBode/internal/sim"
	"github.com/rjboer/GoBode/internal/store"
	"github.com/rjboer/GoBode/internal/sweep"
	"github.com/rjboer/GoBode/internal/telemetry"
	"github.com/rjboer/GoBode/internal/transport"
)

func main() {
	configPath := envString(os.LookupEnv, "BODE_CONFIG", "bode.json")

	persistentCfg, err := loadOrCreateConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	cfg, err := parseConfig(os.Args[1:], os.LookupEnv, persistentCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse config: %v\n", err)
		os.Exit(2)
	}
	if err := saveConfig(configPath, persistentFromCLI(cfg)); err != nil {
		fmt.Fprintf(os.Stderr, "save config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(2)
	}
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("sweep failed", logging.Err(err))
		stop()
		os.Exit(1)
	}
}

// instruments owns both driver handles.
type instruments struct {
	scope *scope.Scope
	gen   *generator.Generator
}

func (in *instruments) Close() error {
	return errors.Join(in.gen.Close(), in.scope.Close())
}

// openInstruments connects the selected backend. Whatever was opened is
// closed again when a later step fails.
func openInstruments(ctx context.Context, cfg cliConfig, logger logging.Logger, enumerators []discovery.Enumerator) (*instruments, error) {
	var scopeT, genT transport.Transport
	scopeCfg := cfg.scopeConfig()
	switch cfg.Backend {
	case "sim":
		bench := sim.New(sim.Config{
			DUT:          sim.RCLowpass(cfg.SimCornerHz, 0),
			ProbeFactors: cfg.ProbeFactors,
		}, logger)
		scopeT, genT = bench.Scope(), bench.Generator()
		// simulated channels settle immediately
		scopeCfg.Sleep = func(context.Context, time.Duration) error { return nil }
	case "visa":
		scopeRes, genRes, err := resolveResources(ctx, cfg, logger, enumerators)
		if err != nil {
			return nil, err
		}
		opts := transport.Options{
			Timeout: millis(cfg.TimeoutMS),
			Serial:  transport.SerialOptions{BaudRate: cfg.SerialBaud},
			Logger:  logger,
		}
		sc, err := transport.Open(ctx, scopeRes, opts)
		if err != nil {
			return nil, err
		}
		gc, err := transport.Open(ctx, genRes, opts)
		if err != nil {
			sc.Close()
			return nil, err
		}
		scopeT, genT = sc, gc
	default:
		return nil, fmt.Errorf("unknown backend %s", cfg.Backend)
	}

	sc, err := scope.Open(ctx, scopeT, scopeCfg, logger)
	if err != nil {
		genT.Close()
		return nil, err
	}
	gen, err := generator.Open(ctx, genT, generator.Config{Timeout: millis(cfg.TimeoutMS)}, logger)
	if err != nil {
		sc.Close()
		return nil, err
	}
	return &instruments{scope: sc, gen: gen}, nil
}

func enumeratorsFor(cfg cliConfig) []discovery.Enumerator {
	enums := []discovery.Enumerator{discovery.SerialEnumerator{}}
	if cfg.MDNS {
		enums = append(enums, discovery.MDNSEnumerator{Timeout: millis(cfg.MDNSTimeoutMS)})
	}
	if len(cfg.Resources) > 0 {
		enums = append(enums, discovery.StaticEnumerator(cfg.Resources))
	}
	return enums
}

// resolveResources picks the scope and generator among discovered resources
// by serial number.
func resolveResources(ctx context.Context, cfg cliConfig, logger logging.Logger, enumerators []discovery.Enumerator) (string, string, error) {
	found, err := discovery.Discover(ctx, logger, enumerators...)
	if err != nil {
		return "", "", err
	}
	names := discovery.Names(found)
	scopeRes, err := discovery.Select(names, cfg.ScopeSerial)
	if err != nil {
		return "", "", fmt.Errorf("oscilloscope: %w", err)
	}
	genRes, err := discovery.Select(names, cfg.GeneratorSerial)
	if err != nil {
		return "", "", fmt.Errorf("generator: %w", err)
	}
	return scopeRes, genRes, nil
}

func run(ctx context.Context, cfg cliConfig, logger logging.Logger) error {
	sweepCfg := cfg.sweepConfig()
	started := time.Now()

	reporters := telemetry.MultiReporter{telemetry.NewStdoutReporter(logger)}
	if cfg.WebAddr != "" {
		hub := telemetry.NewHub(cfg.HistoryLimit, logger)
		reporters = append(reporters, hub)
		go telemetry.NewWebServer(cfg.WebAddr, hub, logger).Start(ctx)
		if cfg.Advertise {
			if shutdown, err := advertise(cfg.WebAddr); err != nil {
				logger.Warn("mdns advertise", logging.Err(err))
			} else {
				defer shutdown()
			}
		}
	}

	var (
		st  *store.Store
		rec store.Run
	)
	if cfg.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return err
		}
		var err error
		if st, err = store.Open(ctx, cfg.DBPath); err != nil {
			return err
		}
		defer st.Close()
		if rec, err = st.CreateRun(ctx, started, sweepCfg); err != nil {
			return err
		}
		reporters = append(reporters, store.NewRecorder(context.WithoutCancel(ctx), st, rec.ID, logger))
	}

	inst, err := openInstruments(ctx, cfg, logger, enumeratorsFor(cfg))
	if err != nil {
		finishRun(st, rec, err, logger)
		return err
	}
	defer func() {
		if err := inst.Close(); err != nil {
			logger.Warn("close instruments", logging.Err(err))
		}
	}()

	runner := sweep.NewRunner(inst.scope, inst.gen, reporters, logger, sweepCfg)
	if err := runner.Init(); err != nil {
		finishRun(st, rec, err, logger)
		return err
	}
	logger.Info("sweep starting",
		logging.Field{Key: "points", Value: len(runner.Frequencies())},
		logging.Field{Key: "backend", Value: cfg.Backend},
		logging.Field{Key: "run_id", Value: rec.ID},
	)
	resp, runErr := runner.Run(ctx)
	finishRun(st, rec, runErr, logger)

	if len(resp.Samples) > 0 {
		paths, err := report.Write(cfg.OutputDir, started, resp.Rows(), logger)
		if err != nil {
			return errors.Join(runErr, err)
		}
		logger.Info("results written",
			logging.Field{Key: "npy", Value: paths.NPY},
			logging.Field{Key: "png", Value: paths.PNG},
			logging.Field{Key: "samples", Value: len(resp.Samples)},
		)
	}
	return runErr
}

func finishRun(st *store.Store, rec store.Run, runErr error, logger logging.Logger) {
	if st == nil {
		return
	}
	if err := st.Finish(context.Background(), rec.ID, time.Now(), runErr); err != nil {
		logger.Warn("record run status", logging.Err(err))
	}
}

func advertise(addr string) (func(), error) {
	_, portText, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		return nil, fmt.Errorf("web port %q: %w", portText, err)
	}
	return mdns.Advertise("GoBode", port, []string{"path=/"})
}
