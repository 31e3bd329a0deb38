package cli

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/corvidae/fetchmux/internal/config"
)

// Options defines CLI options for the downloader service
// Values can be provided via flags or environment variables.
// Dynamic defaults are applied in code using config.Default().
type Options struct {
	// Server options
	Port                 int    `doc:"Port to listen on." short:"p"`
	DataDir              string `doc:"Base data directory used by the service (contains databases, logs, etc.)"`
	BadgerDir            string `doc:"Directory path for Badger DB files. Defaults under data dir."`
	MaxBodyBytes         int64  `doc:"Max request body size in bytes."`
	DefaultQueueID       string `doc:"Default queue ID to use when none specified."`
	GracefulShutdownSecs int    `doc:"Graceful shutdown timeout in seconds." default:"10"`
	GlobalRateLimitBPS   int64  `doc:"Global rate limit in bytes per second (0 disables)."`

	// Auth
	EnableAuth bool   `doc:"Require an API key on every request."`
	APIKey     string `doc:"API key to require when auth is enabled."`

	// Scheduler tunables
	ForegroundConcurrency  int  `doc:"Max concurrently running foreground downloads."`
	BackgroundConcurrency  int  `doc:"Max concurrently running background downloads."`
	ChunkCountDefault      int  `doc:"Default number of chunks to split a download into when the request doesn't specify one."`
	AutoParallelismEnabled bool `doc:"Automatically resize scheduler concurrency from observed throughput." default:"true"`

	// Config file, filling Options fields still at their zero value (see applyConfigFile).
	ConfigFile string `doc:"Path to an optional YAML config file." short:"c"`

	// Process control
	Daemonize bool   `doc:"Run in background (headless) and write PID/log files."`
	PIDFile   string `doc:"Path to PID file when running as a daemon."`
	LogFile   string `doc:"Path to log file when running as a daemon."`
}

// fileConfig is the subset of Options a YAML config file may set. Fields
// left zero in the file are not applied. See applyConfigFile for which
// side wins when a field is set both in the file and by a flag.
type fileConfig struct {
	Port                   int    `yaml:"port"`
	DataDir                string `yaml:"data_dir"`
	BadgerDir              string `yaml:"badger_dir"`
	MaxBodyBytes           int64  `yaml:"max_body_bytes"`
	DefaultQueueID         string `yaml:"default_queue_id"`
	GracefulShutdownSecs   int    `yaml:"graceful_shutdown_secs"`
	GlobalRateLimitBPS     int64  `yaml:"global_rate_limit_bps"`
	EnableAuth             *bool  `yaml:"enable_auth"`
	APIKey                 string `yaml:"api_key"`
	ForegroundConcurrency  int    `yaml:"foreground_concurrency"`
	BackgroundConcurrency  int    `yaml:"background_concurrency"`
	ChunkCountDefault      int    `yaml:"chunk_count_default"`
	AutoParallelismEnabled *bool  `yaml:"auto_parallelism_enabled"`
}

// applyConfigFile loads o.ConfigFile, if set, and fills in any Options field
// still at its zero value. Called before applyDynamicDefaults, so a flag
// already populated onto o by cobra/humacli, and the PORT and
// GLOBAL_RATE_LIMIT_BPS env vars read afterwards, win over the file, and
// the file wins over Default(). Exceptions: enable_auth and
// auto_parallelism_enabled, when present in the file, replace the flag
// value; graceful_shutdown_secs is only applied while the option is zero,
// which its flag default of 10 rules out.
func applyConfigFile(o *Options) error {
	if o.ConfigFile == "" {
		return nil
	}
	raw, err := os.ReadFile(o.ConfigFile)
	if err != nil {
		return err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return err
	}
	if o.Port == 0 {
		o.Port = fc.Port
	}
	if o.DataDir == "" {
		o.DataDir = fc.DataDir
	}
	if o.BadgerDir == "" {
		o.BadgerDir = fc.BadgerDir
	}
	if o.MaxBodyBytes == 0 {
		o.MaxBodyBytes = fc.MaxBodyBytes
	}
	if o.DefaultQueueID == "" {
		o.DefaultQueueID = fc.DefaultQueueID
	}
	if o.GracefulShutdownSecs == 0 {
		o.GracefulShutdownSecs = fc.GracefulShutdownSecs
	}
	if o.GlobalRateLimitBPS == 0 {
		o.GlobalRateLimitBPS = fc.GlobalRateLimitBPS
	}
	if fc.EnableAuth != nil {
		o.EnableAuth = *fc.EnableAuth
	}
	if o.APIKey == "" {
		o.APIKey = fc.APIKey
	}
	if o.ForegroundConcurrency == 0 {
		o.ForegroundConcurrency = fc.ForegroundConcurrency
	}
	if o.BackgroundConcurrency == 0 {
		o.BackgroundConcurrency = fc.BackgroundConcurrency
	}
	if o.ChunkCountDefault == 0 {
		o.ChunkCountDefault = fc.ChunkCountDefault
	}
	if fc.AutoParallelismEnabled != nil {
		o.AutoParallelismEnabled = *fc.AutoParallelismEnabled
	}
	return nil
}

func applyDynamicDefaults(o *Options) {
	if err := applyConfigFile(o); err != nil {
		log.Printf("warning: could not read config file %q: %v", o.ConfigFile, err)
	}
	def := config.Default()
	// Allow env to override port like previous behavior
	if p := os.Getenv("PORT"); p != "" {
		if port, err := strconv.Atoi(p); err == nil {
			o.Port = port
		}
	}
	if grl := os.Getenv("GLOBAL_RATE_LIMIT_BPS"); grl != "" {
		if v, err := strconv.ParseInt(grl, 10, 64); err == nil {
			o.GlobalRateLimitBPS = v
		}
	}
	if o.Port == 0 {
		o.Port = def.HTTPPort
	}
	if o.DataDir == "" {
		o.DataDir = def.DataDir
	}
	if o.BadgerDir == "" {
		// keep compatibility with previous default
		o.BadgerDir = def.BadgerDir
	}
	if o.MaxBodyBytes == 0 {
		o.MaxBodyBytes = def.MaxBodyBytes
	}
	if o.DefaultQueueID == "" {
		o.DefaultQueueID = def.DefaultQueueID
	}
	if o.GracefulShutdownSecs == 0 {
		o.GracefulShutdownSecs = int(def.GracefulSecs / time.Second)
	}
	if o.ForegroundConcurrency == 0 {
		o.ForegroundConcurrency = def.ForegroundConcurrency
	}
	if o.BackgroundConcurrency == 0 {
		o.BackgroundConcurrency = def.BackgroundConcurrency
	}
	if o.ChunkCountDefault == 0 {
		o.ChunkCountDefault = def.ChunkCountDefault
	}
	if o.PIDFile == "" {
		o.PIDFile = filepath.Join(o.DataDir, "fetchmux.pid")
	}
	if o.LogFile == "" {
		o.LogFile = filepath.Join(o.DataDir, "fetchmux.log")
	}
}

func toConfig(o *Options) config.Config {
	return config.Config{
		HTTPPort:           o.Port,
		DataDir:            o.DataDir,
		BadgerDir:          o.BadgerDir,
		MaxBodyBytes:       o.MaxBodyBytes,
		DefaultQueueID:     o.DefaultQueueID,
		GracefulSecs:       time.Duration(o.GracefulShutdownSecs) * time.Second,
		GlobalRateLimitBPS: o.GlobalRateLimitBPS,

		EnableAuth: o.EnableAuth,
		APIKey:     o.APIKey,

		ForegroundConcurrency:  o.ForegroundConcurrency,
		BackgroundConcurrency:  o.BackgroundConcurrency,
		ChunkCountDefault:      o.ChunkCountDefault,
		AutoParallelismEnabled: o.AutoParallelismEnabled,
	}
}

func itoa(i int) string { return strconv.Itoa(i) }

func buildArgsFromOptions(o *Options) []string {
	var args []string
	// Start with command name
	args = append(args, "serve")
	// Map options to flags; only include non-zero/empty values
	if o.Port != 0 {
		args = append(args, "--port", itoa(o.Port))
	}
	if o.DataDir != "" {
		args = append(args, "--data-dir", o.DataDir)
	}
	if o.BadgerDir != "" {
		args = append(args, "--badger-dir", o.BadgerDir)
	}
	if o.MaxBodyBytes != 0 {
		args = append(args, "--max-body-bytes", strconv.FormatInt(o.MaxBodyBytes, 10))
	}
	if o.DefaultQueueID != "" {
		args = append(args, "--default-queue-id", o.DefaultQueueID)
	}
	if o.GracefulShutdownSecs != 0 {
		args = append(args, "--graceful-shutdown-secs", strconv.Itoa(o.GracefulShutdownSecs))
	}
	if o.GlobalRateLimitBPS != 0 {
		args = append(args, "--global-rate-limit-bps", strconv.FormatInt(o.GlobalRateLimitBPS, 10))
	}
	if o.EnableAuth {
		args = append(args, "--enable-auth")
	}
	if o.APIKey != "" {
		args = append(args, "--api-key", o.APIKey)
	}
	if o.ForegroundConcurrency != 0 {
		args = append(args, "--foreground-concurrency", itoa(o.ForegroundConcurrency))
	}
	if o.BackgroundConcurrency != 0 {
		args = append(args, "--background-concurrency", itoa(o.BackgroundConcurrency))
	}
	if o.ChunkCountDefault != 0 {
		args = append(args, "--chunk-count-default", itoa(o.ChunkCountDefault))
	}
	if o.ConfigFile != "" {
		args = append(args, "--config-file", o.ConfigFile)
	}
	args = append(args, "--daemonize="+strconv.FormatBool(o.Daemonize))
	// The child always receives the parent's --daemonize value explicitly.
	return args
}
