package main

import (
	"encoding/json"
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rjboer/GoBode/internal/scope"
	"github.com/rjboer/GoBode/internal/sweep"
	"github.com/rjboer/GoBode/internal/transport"
)

type persistentConfig struct {
	Backend             string             `json:"backend"`
	ScopeSerial         string             `json:"scope_serial"`
	GeneratorSerial     string             `json:"generator_serial"`
	Resources           []string           `json:"resources"`
	MDNS                bool               `json:"mdns"`
	MDNSTimeoutMS       int                `json:"mdns_timeout_ms"`
	SerialBaud          int                `json:"serial_baud"`
	StartHz             float64            `json:"start_hz"`
	StopHz              float64            `json:"stop_hz"`
	PointsPerDecade     int                `json:"points_per_decade"`
	Averaging           int                `json:"averaging"`
	AveragingLimitHz    float64            `json:"averaging_limit_hz"`
	Filter              bool               `json:"filter"`
	Amplitudes          []sweep.Breakpoint `json:"amplitudes"`
	ProbeFactors        [4]float64         `json:"probe_factors"`
	TimeoutMS           int                `json:"timeout_ms"`
	PreambleTimeoutMS   int                `json:"preamble_timeout_ms"`
	ChunkTimeoutMS      int                `json:"chunk_timeout_ms"`
	MaxFrameBytes       int                `json:"max_frame_bytes"`
	MaxEmptyChunks      int                `json:"max_empty_chunks"`
	MaxAcquireAttempts  int                `json:"max_acquire_attempts"`
	MaxRangeAdjustments int                `json:"max_range_adjustments"`
	OutputDir           string             `json:"output_dir"`
	DBPath              string             `json:"db_path"`
	WebAddr             string             `json:"web_addr"`
	Advertise           bool               `json:"advertise"`
	HistoryLimit        int                `json:"history_limit"`
	LogLevel            string             `json:"log_level"`
	LogFormat           string             `json:"log_format"`
	SimCornerHz         float64            `json:"sim_corner_hz"`
}

type cliConfig struct {
	persistentConfig
}

func parseConfig(args []string, lookup func(string) (string, bool), defaults persistentConfig) (cliConfig, error) {
	cfg := cliConfig{persistentConfig: defaults}
	var resources string
	fs := flag.NewFlagSet("bodesweep", flag.ContinueOnError)
	fs.StringVar(&cfg.Backend, "backend", envString(lookup, "BODE_BACKEND", defaults.Backend), "Instrument backend (sim|visa)")
	fs.StringVar(&cfg.ScopeSerial, "scope-serial", envString(lookup, "BODE_SCOPE_SERIAL", defaults.ScopeSerial), "Serial number (substring) of the oscilloscope resource")
	fs.StringVar(&cfg.GeneratorSerial, "generator-serial", envString(lookup, "BODE_GENERATOR_SERIAL", defaults.GeneratorSerial), "Serial number (substring) of the generator resource")
	fs.StringVar(&resources, "resources", envString(lookup, "BODE_RESOURCES", strings.Join(defaults.Resources, ",")), "Comma separated static resource strings")
	fs.BoolVar(&cfg.MDNS, "mdns", envBool(lookup, "BODE_MDNS", defaults.MDNS), "Browse the LAN for instruments")
	fs.IntVar(&cfg.MDNSTimeoutMS, "mdns-timeout-ms", envInt(lookup, "BODE_MDNS_TIMEOUT_MS", defaults.MDNSTimeoutMS), "mDNS browse duration in milliseconds")
	fs.IntVar(&cfg.SerialBaud, "serial-baud", envInt(lookup, "BODE_SERIAL_BAUD", defaults.SerialBaud), "Baud rate for serial instruments")
	fs.Float64Var(&cfg.StartHz, "start", envFloat(lookup, "BODE_START_HZ", defaults.StartHz), "Sweep start frequency in Hz")
	fs.Float64Var(&cfg.StopHz, "stop", envFloat(lookup, "BODE_STOP_HZ", defaults.StopHz), "Sweep stop frequency in Hz")
	fs.IntVar(&cfg.PointsPerDecade, "points-per-decade", envInt(lookup, "BODE_POINTS_PER_DECADE", defaults.PointsPerDecade), "Frequency points per decade")
	fs.IntVar(&cfg.Averaging, "averaging", envInt(lookup, "BODE_AVERAGING", defaults.Averaging), "Captures averaged per point at low frequencies")
	fs.Float64Var(&cfg.AveragingLimitHz, "averaging-limit", envFloat(lookup, "BODE_AVERAGING_LIMIT_HZ", defaults.AveragingLimitHz), "Frequency above which averaging stops")
	fs.BoolVar(&cfg.Filter, "filter", envBool(lookup, "BODE_FILTER", defaults.Filter), "Suppress harmonics with a zero phase elliptic lowpass")
	fs.IntVar(&cfg.TimeoutMS, "timeout-ms", envInt(lookup, "BODE_TIMEOUT_MS", defaults.TimeoutMS), "Default instrument I/O timeout in milliseconds")
	fs.IntVar(&cfg.PreambleTimeoutMS, "preamble-timeout-ms", envInt(lookup, "BODE_PREAMBLE_TIMEOUT_MS", defaults.PreambleTimeoutMS), "Waveform preamble timeout in milliseconds")
	fs.IntVar(&cfg.ChunkTimeoutMS, "chunk-timeout-ms", envInt(lookup, "BODE_CHUNK_TIMEOUT_MS", defaults.ChunkTimeoutMS), "Waveform data frame timeout in milliseconds")
	fs.IntVar(&cfg.MaxFrameBytes, "max-frame-bytes", envInt(lookup, "BODE_MAX_FRAME_BYTES", defaults.MaxFrameBytes), "Largest waveform frame accepted")
	fs.IntVar(&cfg.MaxEmptyChunks, "max-empty-chunks", envInt(lookup, "BODE_MAX_EMPTY_CHUNKS", defaults.MaxEmptyChunks), "Consecutive empty data frames before a transfer is abandoned")
	fs.IntVar(&cfg.MaxAcquireAttempts, "max-acquire-attempts", envInt(lookup, "BODE_MAX_ACQUIRE_ATTEMPTS", defaults.MaxAcquireAttempts), "Acquisition attempts per capture")
	fs.IntVar(&cfg.MaxRangeAdjustments, "max-range-adjustments", envInt(lookup, "BODE_MAX_RANGE_ADJUSTMENTS", defaults.MaxRangeAdjustments), "Auto-ranging rounds per capture")
	fs.StringVar(&cfg.OutputDir, "out", envString(lookup, "BODE_OUTPUT_DIR", defaults.OutputDir), "Directory for data and plots")
	fs.StringVar(&cfg.DBPath, "db", envString(lookup, "BODE_DB_PATH", defaults.DBPath), "SQLite run database (empty disables)")
	fs.StringVar(&cfg.WebAddr, "web-addr", envString(lookup, "BODE_WEB_ADDR", defaults.WebAddr), "Optional web telemetry listen address (e.g. :8080)")
	fs.BoolVar(&cfg.Advertise, "advertise", envBool(lookup, "BODE_ADVERTISE", defaults.Advertise), "Advertise the web telemetry page over mDNS")
	fs.IntVar(&cfg.HistoryLimit, "history-limit", envInt(lookup, "BODE_HISTORY_LIMIT", defaults.HistoryLimit), "Maximum points kept in telemetry history")
	fs.StringVar(&cfg.LogLevel, "log-level", envString(lookup, "BODE_LOG_LEVEL", defaults.LogLevel), "Log level (debug|info|warn|error)")
	fs.StringVar(&cfg.LogFormat, "log-format", envString(lookup, "BODE_LOG_FORMAT", defaults.LogFormat), "Log format (text|json)")
	fs.Float64Var(&cfg.SimCornerHz, "sim-corner", envFloat(lookup, "BODE_SIM_CORNER_HZ", defaults.SimCornerHz), "Corner frequency of the simulated RC lowpass")

	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}
	cfg.Resources = splitList(resources)
	return cfg, nil
}

func persistentFromCLI(cfg cliConfig) persistentConfig {
	return cfg.persistentConfig
}

func loadOrCreateConfig(path string) (persistentConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := defaultPersistentConfig()
			if saveErr := saveConfig(path, cfg); saveErr != nil {
				return persistentConfig{}, saveErr
			}
			return cfg, nil
		}
		return persistentConfig{}, err
	}
	defer f.Close()

	cfg := defaultPersistentConfig()
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return persistentConfig{}, err
	}
	return cfg, nil
}

func saveConfig(path string, cfg persistentConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func defaultPersistentConfig() persistentConfig {
	sw := sweep.DefaultConfig()
	return persistentConfig{
		Backend:             "sim",
		MDNS:                true,
		MDNSTimeoutMS:       2000,
		SerialBaud:          115200,
		StartHz:             sw.StartHz,
		StopHz:              sw.StopHz,
		PointsPerDecade:     sw.PointsPerDecade,
		Averaging:           sw.Averaging,
		AveragingLimitHz:    sw.AveragingLimit,
		Filter:              sw.Filter,
		Amplitudes:          sw.Amplitudes,
		ProbeFactors:        scope.DefaultProbeFactors,
		TimeoutMS:           int(transport.DefaultTimeout / time.Millisecond),
		PreambleTimeoutMS:   500,
		ChunkTimeoutMS:      300,
		MaxFrameBytes:       1 << 16,
		MaxEmptyChunks:      3,
		MaxAcquireAttempts:  5,
		MaxRangeAdjustments: len(scope.RangeLadder),
		OutputDir:           "data",
		DBPath:              "data/bode.db",
		WebAddr:             "",
		HistoryLimit:        1000,
		LogLevel:            "info",
		LogFormat:           "text",
		SimCornerHz:         10e3,
	}
}

func (c persistentConfig) scopeConfig() scope.Config {
	return scope.Config{
		ProbeFactors:        c.ProbeFactors,
		Timeout:             millis(c.TimeoutMS),
		PreambleTimeout:     millis(c.PreambleTimeoutMS),
		ChunkTimeout:        millis(c.ChunkTimeoutMS),
		MaxFrameBytes:       c.MaxFrameBytes,
		MaxEmptyChunks:      c.MaxEmptyChunks,
		MaxAcquireAttempts:  c.MaxAcquireAttempts,
		MaxRangeAdjustments: c.MaxRangeAdjustments,
	}
}

func (c persistentConfig) sweepConfig() sweep.Config {
	sw := sweep.DefaultConfig()
	sw.StartHz = c.StartHz
	sw.StopHz = c.StopHz
	sw.PointsPerDecade = c.PointsPerDecade
	sw.Averaging = c.Averaging
	sw.AveragingLimit = c.AveragingLimitHz
	sw.Filter = c.Filter
	if len(c.Amplitudes) > 0 {
		sw.Amplitudes = c.Amplitudes
	}
	return sw
}

func millis(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envFloat(lookup func(string) (string, bool), key string, def float64) float64 {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envInt(lookup func(string) (string, bool), key string, def int) int {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envBool(lookup func(string) (string, bool), key string, def bool) bool {
	if val, ok := lookup(key); ok {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return def
}

func envString(lookup func(string) (string, bool), key, def string) string {
	if val, ok := lookup(key); ok {
		return val
	}
	return def
}
