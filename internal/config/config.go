// Package config provides configuration management for the matting service.
// Configuration is layered: built-in defaults, an optional YAML file, then
// environment variable overrides, followed by validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Default values
	DefaultPort     = 8788
	DefaultHost     = "127.0.0.1"
	DefaultLogLevel = "info"
	DefaultDataDir  = ".heimdex-matting"

	// Environment variable names
	EnvConfigFile = "MATTING_CONFIG"
	EnvPort       = "MATTING_PORT"
	EnvHost       = "MATTING_HOST"
	EnvLogLevel   = "MATTING_LOG_LEVEL"
	EnvDataDir    = "MATTING_DATA_DIR"
	EnvAuthToken  = "MATTING_AUTH_TOKEN"

	// Scratch environment variable names
	EnvScratchDir    = "MATTING_SCRATCH_DIR"
	EnvScratchRetain = "MATTING_SCRATCH_RETAIN"
	EnvScratchMaxAge = "MATTING_SCRATCH_MAX_AGE"
	EnvScratchSweep  = "MATTING_SCRATCH_SWEEP"

	// Engine environment variable names
	EnvVariant       = "MATTING_VARIANT"
	EnvDevice        = "MATTING_DEVICE"
	EnvEnginePython  = "MATTING_ENGINE_PYTHON"
	EnvEngineModule  = "MATTING_ENGINE_MODULE"
	EnvEngineWorkDir = "MATTING_ENGINE_WORKDIR"
	EnvEngineTimeout = "MATTING_ENGINE_TIMEOUT"

	// Fetch environment variable names
	EnvFetchTimeout  = "MATTING_FETCH_TIMEOUT"
	EnvFetchAttempts = "MATTING_FETCH_ATTEMPTS"
	EnvFetchMaxBytes = "MATTING_FETCH_MAX_BYTES"

	// Path policy environment variable names (comma separated)
	EnvInputAllowedDirs  = "MATTING_INPUT_ALLOWED_DIRS"
	EnvOutputAllowedDirs = "MATTING_OUTPUT_ALLOWED_DIRS"

	// Object storage environment variable names
	EnvS3Endpoint  = "MATTING_S3_ENDPOINT"
	EnvS3AccessKey = "MATTING_S3_ACCESS_KEY"
	EnvS3SecretKey = "MATTING_S3_SECRET_KEY"
	EnvS3UseSSL    = "MATTING_S3_USE_SSL"

	EnvTraceExporter = "MATTING_OTEL_EXPORTER"

	// Database filename
	DBFilename = "matting.db"

	// Engine defaults
	DefaultVariant             = "mobilenetv3"
	DefaultDevice              = "cuda"
	DefaultEngineModule        = "inference"
	DefaultEngineTimeoutSecs   = 3600 // 1 hour
	DefaultEngineDoctorTimeout = 30   // seconds

	// Fetch defaults
	DefaultFetchTimeoutSecs = 300
	DefaultFetchAttempts    = 3
	DefaultFetchMaxBytes    = 4 * 1024 * 1024 * 1024 // 4GB

	// Scratch defaults
	DefaultScratchMaxAge = 6 * time.Hour
	DefaultScratchSweep  = "@every 10m"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	Host() string
	LogLevel() string
	DataDir() string
	DBPath() string
	AuthToken() string

	ScratchDir() string
	ScratchRetain() bool
	ScratchMaxAge() time.Duration
	ScratchSweepSchedule() string

	Engine() EngineSettings

	FetchTimeout() time.Duration
	FetchAttempts() int
	FetchMaxBytes() int64

	InputAllowedDirs() []string
	OutputAllowedDirs() []string

	ObjectStorage() ObjectStorageSettings
	TraceExporter() string
}

// EngineSettings is the process-wide matting engine configuration. It is
// built once at startup and read-only afterwards.
type EngineSettings struct {
	Variant       string
	Checkpoint    string
	Device        string
	Python        string // empty = auto-detect
	Module        string
	WorkDir       string
	Timeout       time.Duration
	DoctorTimeout time.Duration
}

// ObjectStorageSettings configures s3:// input sources. An empty Endpoint
// disables object storage resolution.
type ObjectStorageSettings struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Enabled reports whether object storage inputs are configured.
func (o ObjectStorageSettings) Enabled() bool {
	return o.Endpoint != ""
}

// CheckpointPath derives the model checkpoint location for a variant.
func CheckpointPath(variant string) string {
	return fmt.Sprintf("checkpoints/rvm_%s.pth", variant)
}

// EnvConfig reads configuration from an optional YAML file and environment variables
type EnvConfig struct {
	port      int
	host      string
	logLevel  string
	dataDir   string
	authToken string

	scratchDir    string
	scratchRetain bool
	scratchMaxAge time.Duration
	scratchSweep  string

	engine EngineSettings

	fetchTimeout  time.Duration
	fetchAttempts int
	fetchMaxBytes int64

	inputAllowedDirs  []string
	outputAllowedDirs []string

	objectStorage ObjectStorageSettings
	traceExporter string
}

// fileConfig mirrors the YAML config file layout. Zero values leave the
// defaults untouched.
type fileConfig struct {
	Server struct {
		Port      int    `yaml:"port"`
		Host      string `yaml:"host"`
		AuthToken string `yaml:"auth_token"`
	} `yaml:"server"`
	LogLevel string `yaml:"log_level"`
	DataDir  string `yaml:"data_dir"`
	Scratch  struct {
		Dir           string        `yaml:"dir"`
		Retain        *bool         `yaml:"retain"`
		MaxAge        time.Duration `yaml:"max_age"`
		SweepSchedule string        `yaml:"sweep_schedule"`
	} `yaml:"scratch"`
	Engine struct {
		Variant       string        `yaml:"variant"`
		Device        string        `yaml:"device"`
		Python        string        `yaml:"python"`
		Module        string        `yaml:"module"`
		WorkDir       string        `yaml:"workdir"`
		Timeout       time.Duration `yaml:"timeout"`
		DoctorTimeout time.Duration `yaml:"doctor_timeout"`
	} `yaml:"engine"`
	Fetch struct {
		Timeout     time.Duration `yaml:"timeout"`
		MaxAttempts int           `yaml:"max_attempts"`
		MaxBytes    int64         `yaml:"max_bytes"`
	} `yaml:"fetch"`
	Source struct {
		AllowedDirs []string `yaml:"allowed_dirs"`
	} `yaml:"source"`
	Output struct {
		AllowedDirs []string `yaml:"allowed_dirs"`
	} `yaml:"output"`
	ObjectStorage struct {
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		UseSSL    bool   `yaml:"use_ssl"`
	} `yaml:"object_storage"`
	Tracing struct {
		Exporter string `yaml:"exporter"`
	} `yaml:"tracing"`
}

// New creates a new EnvConfig, reading the YAML file named by MATTING_CONFIG
// when set.
func New() (*EnvConfig, error) {
	return Load(os.Getenv(EnvConfigFile))
}

// Load creates a new EnvConfig with defaults, the YAML file at path (if any)
// and environment variable overrides.
func Load(path string) (*EnvConfig, error) {
	cfg := defaults()

	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.engine.Checkpoint = CheckpointPath(cfg.engine.Variant)
	if cfg.scratchDir == "" {
		cfg.scratchDir = filepath.Join(cfg.dataDir, "scratch")
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func defaults() *EnvConfig {
	return &EnvConfig{
		port:          DefaultPort,
		host:          DefaultHost,
		logLevel:      DefaultLogLevel,
		dataDir:       defaultDataDir(),
		scratchMaxAge: DefaultScratchMaxAge,
		scratchSweep:  DefaultScratchSweep,
		engine: EngineSettings{
			Variant:       DefaultVariant,
			Device:        DefaultDevice,
			Module:        DefaultEngineModule,
			Timeout:       time.Duration(DefaultEngineTimeoutSecs) * time.Second,
			DoctorTimeout: time.Duration(DefaultEngineDoctorTimeout) * time.Second,
		},
		fetchTimeout:  time.Duration(DefaultFetchTimeoutSecs) * time.Second,
		fetchAttempts: DefaultFetchAttempts,
		fetchMaxBytes: DefaultFetchMaxBytes,
	}
}

func (c *EnvConfig) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return err
	}

	setInt(&c.port, fc.Server.Port)
	setString(&c.host, fc.Server.Host)
	setString(&c.authToken, fc.Server.AuthToken)
	setString(&c.logLevel, fc.LogLevel)
	setString(&c.dataDir, fc.DataDir)

	setString(&c.scratchDir, fc.Scratch.Dir)
	if fc.Scratch.Retain != nil {
		c.scratchRetain = *fc.Scratch.Retain
	}
	setDuration(&c.scratchMaxAge, fc.Scratch.MaxAge)
	setString(&c.scratchSweep, fc.Scratch.SweepSchedule)

	setString(&c.engine.Variant, fc.Engine.Variant)
	setString(&c.engine.Device, fc.Engine.Device)
	setString(&c.engine.Python, fc.Engine.Python)
	setString(&c.engine.Module, fc.Engine.Module)
	setString(&c.engine.WorkDir, fc.Engine.WorkDir)
	setDuration(&c.engine.Timeout, fc.Engine.Timeout)
	setDuration(&c.engine.DoctorTimeout, fc.Engine.DoctorTimeout)

	setDuration(&c.fetchTimeout, fc.Fetch.Timeout)
	setInt(&c.fetchAttempts, fc.Fetch.MaxAttempts)
	if fc.Fetch.MaxBytes > 0 {
		c.fetchMaxBytes = fc.Fetch.MaxBytes
	}

	if len(fc.Source.AllowedDirs) > 0 {
		c.inputAllowedDirs = fc.Source.AllowedDirs
	}
	if len(fc.Output.AllowedDirs) > 0 {
		c.outputAllowedDirs = fc.Output.AllowedDirs
	}

	c.objectStorage = ObjectStorageSettings{
		Endpoint:  fc.ObjectStorage.Endpoint,
		AccessKey: fc.ObjectStorage.AccessKey,
		SecretKey: fc.ObjectStorage.SecretKey,
		UseSSL:    fc.ObjectStorage.UseSSL,
	}
	setString(&c.traceExporter, fc.Tracing.Exporter)
	return nil
}

func (c *EnvConfig) applyEnv() error {
	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}

	setString(&c.host, os.Getenv(EnvHost))
	setString(&c.logLevel, os.Getenv(EnvLogLevel))
	setString(&c.dataDir, os.Getenv(EnvDataDir))
	setString(&c.authToken, os.Getenv(EnvAuthToken))

	setString(&c.scratchDir, os.Getenv(EnvScratchDir))
	if v := os.Getenv(EnvScratchRetain); v != "" {
		retain, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvScratchRetain, err)
		}
		c.scratchRetain = retain
	}
	if v := os.Getenv(EnvScratchMaxAge); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvScratchMaxAge, err)
		}
		c.scratchMaxAge = d
	}
	setString(&c.scratchSweep, os.Getenv(EnvScratchSweep))

	setString(&c.engine.Variant, os.Getenv(EnvVariant))
	setString(&c.engine.Device, os.Getenv(EnvDevice))
	setString(&c.engine.Python, os.Getenv(EnvEnginePython))
	setString(&c.engine.Module, os.Getenv(EnvEngineModule))
	setString(&c.engine.WorkDir, os.Getenv(EnvEngineWorkDir))
	if v := os.Getenv(EnvEngineTimeout); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvEngineTimeout, err)
		}
		c.engine.Timeout = time.Duration(secs) * time.Second
	}

	if v := os.Getenv(EnvFetchTimeout); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvFetchTimeout, err)
		}
		c.fetchTimeout = time.Duration(secs) * time.Second
	}
	if v := os.Getenv(EnvFetchAttempts); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvFetchAttempts, err)
		}
		c.fetchAttempts = n
	}
	if v := os.Getenv(EnvFetchMaxBytes); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvFetchMaxBytes, err)
		}
		c.fetchMaxBytes = n
	}

	if v := os.Getenv(EnvInputAllowedDirs); v != "" {
		c.inputAllowedDirs = splitList(v)
	}
	if v := os.Getenv(EnvOutputAllowedDirs); v != "" {
		c.outputAllowedDirs = splitList(v)
	}

	setString(&c.objectStorage.Endpoint, os.Getenv(EnvS3Endpoint))
	setString(&c.objectStorage.AccessKey, os.Getenv(EnvS3AccessKey))
	setString(&c.objectStorage.SecretKey, os.Getenv(EnvS3SecretKey))
	if v := os.Getenv(EnvS3UseSSL); v != "" {
		useSSL, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvS3UseSSL, err)
		}
		c.objectStorage.UseSSL = useSSL
	}

	setString(&c.traceExporter, os.Getenv(EnvTraceExporter))
	return nil
}

func (c *EnvConfig) validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if strings.TrimSpace(c.engine.Variant) == "" {
		return fmt.Errorf("engine variant is required")
	}
	if c.engine.Timeout <= 0 {
		return fmt.Errorf("engine timeout must be positive")
	}
	if c.fetchTimeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive")
	}
	if c.fetchAttempts < 1 {
		return fmt.Errorf("fetch attempts must be at least 1")
	}
	if c.fetchMaxBytes <= 0 {
		return fmt.Errorf("fetch max bytes must be positive")
	}
	if c.scratchMaxAge <= 0 {
		return fmt.Errorf("scratch max age must be positive")
	}
	return nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// Host returns the HTTP bind address
func (c *EnvConfig) Host() string {
	return c.host
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// AuthToken returns the bearer token guarding the API. Empty disables auth.
func (c *EnvConfig) AuthToken() string {
	return c.authToken
}

// ScratchDir returns the root under which per-request scratch spaces live
func (c *EnvConfig) ScratchDir() string {
	return c.scratchDir
}

func (c *EnvConfig) ScratchRetain() bool {
	return c.scratchRetain
}

func (c *EnvConfig) ScratchMaxAge() time.Duration {
	return c.scratchMaxAge
}

func (c *EnvConfig) ScratchSweepSchedule() string {
	return c.scratchSweep
}

// Engine returns a copy of the engine settings
func (c *EnvConfig) Engine() EngineSettings {
	return c.engine
}

func (c *EnvConfig) FetchTimeout() time.Duration {
	return c.fetchTimeout
}

func (c *EnvConfig) FetchAttempts() int {
	return c.fetchAttempts
}

func (c *EnvConfig) FetchMaxBytes() int64 {
	return c.fetchMaxBytes
}

func (c *EnvConfig) InputAllowedDirs() []string {
	return c.inputAllowedDirs
}

func (c *EnvConfig) OutputAllowedDirs() []string {
	return c.outputAllowedDirs
}

func (c *EnvConfig) ObjectStorage() ObjectStorageSettings {
	return c.objectStorage
}

func (c *EnvConfig) TraceExporter() string {
	return c.traceExporter
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
