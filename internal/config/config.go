// Package config loads per-process configuration for EyeD's binaries. Each
// binary reads a YAML file (EYED_CONFIG_PATH, default config.yaml) for its
// section, then applies environment variable overrides on top. A missing
// or unreadable config file is not fatal: every field
// still has a hardcoded default, so an EyeD process can run from environment
// variables alone.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v2"
)

// Capture holds CaptureAgent configuration.
type Capture struct {
	ConfigPath       string        `yaml:"-"`
	GatewayAddr      string        `yaml:"gateway_addr"`
	DeviceID         string        `yaml:"device_id"`
	LogLevel         string        `yaml:"log_level"`
	CameraSource     string        `yaml:"camera_source"`
	CameraDevice     string        `yaml:"camera_device"`
	ImageDir         string        `yaml:"image_dir"`
	QualityThreshold float64       `yaml:"quality_threshold"`
	RingCapacity     int           `yaml:"ring_capacity"`
	ReconnectBaseMS  int           `yaml:"reconnect_base_ms"`
	ReconnectMaxMS   int           `yaml:"reconnect_max_ms"`
	ConnectTimeout   time.Duration `yaml:"-"`
}

// Gateway holds Gateway configuration.
type Gateway struct {
	GRPCAddr          string        `yaml:"grpc_addr"`
	HTTPAddr          string        `yaml:"http_addr"`
	NATSURL           string        `yaml:"nats_url"`
	LogLevel          string        `yaml:"log_level"`
	BreakerThreshold  int           `yaml:"breaker_threshold"`
	BreakerCooldown   time.Duration `yaml:"-"`
	BusRequestTimeout time.Duration `yaml:"-"`
	WSPingInterval    time.Duration `yaml:"-"`
	WSReadDeadline    time.Duration `yaml:"-"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
	DatasetRoot       string        `yaml:"dataset_root"`
	Version           string        `yaml:"-"`
}

// Engine holds Engine configuration.
type Engine struct {
	Runtime            string        `yaml:"runtime"`
	NATSURL            string        `yaml:"nats_url"`
	DBURL              string        `yaml:"db_url"`
	RedisURL           string        `yaml:"redis_url"`
	MatchThreshold     float64       `yaml:"match_threshold"`
	DedupThreshold     float64       `yaml:"dedup_threshold"`
	RotationShift      int           `yaml:"rotation_shift"`
	PipelinePoolSize   int           `yaml:"pipeline_pool_size"`
	BatchWorkers       int           `yaml:"batch_workers"`
	BatchDBSize        int           `yaml:"batch_db_size"`
	BatchDBInterval    time.Duration `yaml:"-"`
	HEEnabled          bool          `yaml:"he_enabled"`
	HEKeyDir           string        `yaml:"he_key_dir"`
	SupabaseURL        string        `yaml:"-"`
	SupabaseServiceKey string        `yaml:"-"`
}

// KeyService holds KeyService configuration.
type KeyService struct {
	NATSURL  string `yaml:"nats_url"`
	HEKeyDir string `yaml:"he_key_dir"`
}

// fileConfig mirrors the on-disk YAML shape: one optional section per
// binary, so a single shared config.yaml can configure a whole deployment.
type fileConfig struct {
	Capture    Capture    `yaml:"capture"`
	Gateway    Gateway    `yaml:"gateway"`
	Engine     Engine     `yaml:"engine"`
	KeyService KeyService `yaml:"keyservice"`
}

var (
	fileOnce sync.Once
	fileCfg  fileConfig
)

// loadFile parses EYED_CONFIG_PATH (default config.yaml) once per process. A
// missing file is logged and treated as all-defaults rather than fatal, since
// most EyeD deployments configure purely through the environment.
func loadFile() fileConfig {
	fileOnce.Do(func() {
		path := getEnv("EYED_CONFIG_PATH", "config.yaml")
		f, err := os.Open(path)
		if err != nil {
			slog.Warn("config: no YAML file found, using environment and defaults", "path", path, "error", err)
			return
		}
		defer f.Close()

		if err := yaml.NewDecoder(f).Decode(&fileCfg); err != nil {
			slog.Warn("config: failed to parse YAML file, using environment and defaults", "path", path, "error", err)
		}
	})
	return fileCfg
}

// LoadCapture reads CaptureAgent config: YAML defaults overridden by the
// environment.
func LoadCapture() Capture {
	f := loadFile().Capture
	return Capture{
		ConfigPath:       getEnv("CAPTURE_CONFIG", ""),
		GatewayAddr:      getEnv("EYED_GATEWAY_ADDR", orDefault(f.GatewayAddr, "localhost:50051")),
		DeviceID:         getEnv("EYED_DEVICE_ID", orDefault(f.DeviceID, "capture-01")),
		LogLevel:         getEnv("EYED_LOG_LEVEL", orDefault(f.LogLevel, "info")),
		CameraSource:     getEnv("EYED_CAMERA_SOURCE", orDefault(f.CameraSource, "directory")),
		CameraDevice:     getEnv("EYED_CAMERA_DEVICE", orDefault(f.CameraDevice, "/dev/video0")),
		ImageDir:         getEnv("EYED_IMAGE_DIR", orDefault(f.ImageDir, "./data")),
		QualityThreshold: getEnvFloat("EYED_QUALITY_THRESHOLD", orDefaultFloat(f.QualityThreshold, 0.35)),
		RingCapacity:     getEnvInt("EYED_RING_CAPACITY", orDefaultInt(f.RingCapacity, 16)),
		ReconnectBaseMS:  getEnvInt("EYED_RECONNECT_BASE_MS", orDefaultInt(f.ReconnectBaseMS, 250)),
		ReconnectMaxMS:   getEnvInt("EYED_RECONNECT_MAX_MS", orDefaultInt(f.ReconnectMaxMS, 30000)),
		ConnectTimeout:   5 * time.Second,
	}
}

// LoadGateway reads Gateway config: YAML defaults overridden by the
// environment.
func LoadGateway() Gateway {
	f := loadFile().Gateway
	origins := f.AllowedOrigins
	if csv := getEnv("EYED_ALLOWED_ORIGINS", ""); csv != "" {
		origins = splitCSV(csv)
	}
	return Gateway{
		GRPCAddr:          getEnv("EYED_GRPC_ADDR", orDefault(f.GRPCAddr, ":50051")),
		HTTPAddr:          getEnv("EYED_HTTP_ADDR", orDefault(f.HTTPAddr, ":8080")),
		NATSURL:           getEnv("EYED_NATS_URL", orDefault(f.NATSURL, "nats://localhost:4222")),
		LogLevel:          getEnv("EYED_LOG_LEVEL", orDefault(f.LogLevel, "info")),
		BreakerThreshold:  getEnvInt("EYED_BREAKER_THRESHOLD", orDefaultInt(f.BreakerThreshold, 5)),
		BreakerCooldown:   time.Duration(getEnvInt("EYED_BREAKER_COOLDOWN_SEC", 30)) * time.Second,
		BusRequestTimeout: time.Duration(getEnvInt("EYED_BUS_TIMEOUT_SEC", 8)) * time.Second,
		WSPingInterval:    30 * time.Second,
		WSReadDeadline:    60 * time.Second,
		AllowedOrigins:    origins,
		DatasetRoot:       getEnv("EYED_DATASET_ROOT", orDefault(f.DatasetRoot, "./data")),
		Version:           getEnv("EYED_VERSION", "dev"),
	}
}

// LoadEngine reads Engine config: YAML defaults overridden by the
// environment.
func LoadEngine() Engine {
	f := loadFile().Engine
	return Engine{
		Runtime:            getEnv("EYED_RUNTIME", orDefault(f.Runtime, "cpu")),
		NATSURL:            getEnv("EYED_NATS_URL", orDefault(f.NATSURL, "nats://localhost:4222")),
		DBURL:              getEnv("EYED_DB_URL", f.DBURL),
		RedisURL:           getEnv("EYED_REDIS_URL", orDefault(f.RedisURL, "redis://localhost:6379/0")),
		MatchThreshold:     getEnvFloat("EYED_MATCH_THRESHOLD", orDefaultFloat(f.MatchThreshold, 0.32)),
		DedupThreshold:     getEnvFloat("EYED_DEDUP_THRESHOLD", orDefaultFloat(f.DedupThreshold, 0.24)),
		RotationShift:      getEnvInt("EYED_ROTATION_SHIFT", orDefaultInt(f.RotationShift, 15)),
		PipelinePoolSize:   getEnvInt("EYED_PIPELINE_POOL_SIZE", orDefaultInt(f.PipelinePoolSize, 3)),
		BatchWorkers:       getEnvInt("EYED_BATCH_WORKERS", orDefaultInt(f.BatchWorkers, 4)),
		BatchDBSize:        getEnvInt("EYED_BATCH_DB_SIZE", orDefaultInt(f.BatchDBSize, 50)),
		BatchDBInterval:    time.Duration(getEnvInt("EYED_BATCH_DB_INTERVAL_SEC", 2)) * time.Second,
		HEEnabled:          getEnvBool("EYED_HE_ENABLED", f.HEEnabled),
		HEKeyDir:           getEnv("EYED_HE_KEY_DIR", orDefault(f.HEKeyDir, "./keys")),
		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_KEY", ""),
	}
}

// LoadKeyService reads KeyService config: YAML defaults overridden by the
// environment.
func LoadKeyService() KeyService {
	f := loadFile().KeyService
	return KeyService{
		NATSURL:  getEnv("EYED_NATS_URL", orDefault(f.NATSURL, "nats://localhost:4222")),
		HEKeyDir: getEnv("EYED_HE_KEY_DIR", orDefault(f.HEKeyDir, "./keys")),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func splitCSV(s string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

func orDefault(val, defaultVal string) string {
	if val == "" {
		return defaultVal
	}
	return val
}

func orDefaultInt(val, defaultVal int) int {
	if val == 0 {
		return defaultVal
	}
	return val
}

func orDefaultFloat(val, defaultVal float64) float64 {
	if val == 0 {
		return defaultVal
	}
	return val
}
