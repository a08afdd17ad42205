package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. FA_DB_HOST. Leaf
// fields carry no envconfig tag so envconfig never falls back to unprefixed
// names like USER or PORT.
const EnvPrefix = "FA"

type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Database  DatabaseConfig  `yaml:"database" envconfig:"DB"`
	NATS      NATSConfig      `yaml:"nats" envconfig:"NATS"`
	MinIO     MinIOConfig     `yaml:"minio" envconfig:"MINIO"`
	Vision    VisionConfig    `yaml:"vision" envconfig:"VISION"`
	Detection DetectionConfig `yaml:"detection" envconfig:"DETECTION"`
	History   HistoryConfig   `yaml:"history" envconfig:"HISTORY"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOG"`
}

type ServerConfig struct {
	Port           int           `yaml:"port" split_words:"true"`
	MetricsPort    int           `yaml:"metrics_port" split_words:"true"`
	APIKeys        []string      `yaml:"api_keys" split_words:"true"`
	RequestTimeout time.Duration `yaml:"request_timeout" split_words:"true"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes" split_words:"true"`
}

type DatabaseConfig struct {
	Host           string `yaml:"host" split_words:"true"`
	Port           int    `yaml:"port" split_words:"true"`
	Name           string `yaml:"name" split_words:"true"`
	User           string `yaml:"user" split_words:"true"`
	Password       string `yaml:"password" split_words:"true"`
	MaxConns       int    `yaml:"max_conns" split_words:"true"`
	SkipMigrations bool   `yaml:"skip_migrations" split_words:"true"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// Enabled reports whether a database is configured at all.
func (d DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

type NATSConfig struct {
	URL string `yaml:"url" split_words:"true"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint" split_words:"true"`
	AccessKey string `yaml:"access_key" split_words:"true"`
	SecretKey string `yaml:"secret_key" split_words:"true"`
	Bucket    string `yaml:"bucket" split_words:"true"`
	UseSSL    bool   `yaml:"use_ssl" split_words:"true"`
}

// Classifier backends.
const (
	BackendONNX    = "onnx"
	BackendFixture = "fixture"
)

type VisionConfig struct {
	Backend         string        `yaml:"backend" split_words:"true"`
	ModelsDir       string        `yaml:"models_dir" split_words:"true"`
	ONNXLibPath     string        `yaml:"onnx_lib_path" split_words:"true"`
	IntraOpThreads  int           `yaml:"intra_op_threads" split_words:"true"`
	Age             ModelConfig   `yaml:"age" envconfig:"AGE"`
	Gender          ModelConfig   `yaml:"gender" envconfig:"GENDER"`
	Expression      ModelConfig   `yaml:"expression" envconfig:"EXPRESSION"`
	Sequential      bool          `yaml:"sequential" split_words:"true"`
	DomainTimeout   time.Duration `yaml:"domain_timeout" split_words:"true"`
	CropPadding     float64       `yaml:"crop_padding" split_words:"true"`
	WorkerCount     int           `yaml:"worker_count" split_words:"true"`
	SnapshotQuality int           `yaml:"snapshot_quality" split_words:"true"`
}

// ModelConfig describes one domain classifier.
type ModelConfig struct {
	File       string    `yaml:"file" split_words:"true"`
	InputName  string    `yaml:"input_name" split_words:"true"`
	OutputName string    `yaml:"output_name" split_words:"true"`
	Fixture    []float32 `yaml:"fixture" split_words:"true"`
}

// Face detection providers.
const (
	DetectorNone        = "none"
	DetectorRetinaFace  = "retinaface"
	DetectorRekognition = "rekognition"
)

type DetectionConfig struct {
	Provider  string  `yaml:"provider" split_words:"true"`
	Model     string  `yaml:"model" split_words:"true"`
	Threshold float64 `yaml:"threshold" split_words:"true"`
	AWSRegion string  `yaml:"aws_region" split_words:"true"`
}

type HistoryConfig struct {
	Disabled     bool `yaml:"disabled" split_words:"true"`
	DefaultLimit int  `yaml:"default_limit" split_words:"true"`
	MaxLimit     int  `yaml:"max_limit" split_words:"true"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" split_words:"true"`
	Format string `yaml:"format" split_words:"true"`
}

// Load reads config from a YAML file (optional when path is empty), applies
// FA_* environment overrides and fills defaults.
func Load(path string) (*Config, error) {
	cfg := presets()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the services cannot start with.
func (c *Config) Validate() error {
	switch c.Vision.Backend {
	case BackendONNX, BackendFixture:
	default:
		return fmt.Errorf("unknown vision backend %q", c.Vision.Backend)
	}
	switch c.Detection.Provider {
	case DetectorNone, DetectorRetinaFace, DetectorRekognition:
	default:
		return fmt.Errorf("unknown detection provider %q", c.Detection.Provider)
	}
	if c.Vision.CropPadding < 0 {
		return fmt.Errorf("crop_padding must be >= 0, got %v", c.Vision.CropPadding)
	}
	if c.Vision.DomainTimeout < 0 {
		return fmt.Errorf("domain_timeout must be >= 0, got %s", c.Vision.DomainTimeout)
	}
	return nil
}

// DefaultCropPadding is the crop_padding used when the setting is absent.
const DefaultCropPadding = 0.2

// presets holds defaults for settings where zero is a valid choice; they are
// applied before the file and environment so an explicit 0 survives.
func presets() *Config {
	return &Config{
		Vision: VisionConfig{CropPadding: DefaultCropPadding},
	}
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 8082
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 30 * time.Second
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 10 << 20
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "faceattr"
	}
	if cfg.Vision.Backend == "" {
		cfg.Vision.Backend = BackendONNX
	}
	if cfg.Vision.ModelsDir == "" {
		cfg.Vision.ModelsDir = "models"
	}
	if cfg.Vision.Age.File == "" {
		cfg.Vision.Age.File = "age_model.onnx"
	}
	if cfg.Vision.Gender.File == "" {
		cfg.Vision.Gender.File = "gender_model.onnx"
	}
	if cfg.Vision.Expression.File == "" {
		cfg.Vision.Expression.File = "expression_model.onnx"
	}
	if cfg.Vision.WorkerCount == 0 {
		cfg.Vision.WorkerCount = 4
	}
	if cfg.Vision.SnapshotQuality == 0 {
		cfg.Vision.SnapshotQuality = 85
	}
	if cfg.Detection.Provider == "" {
		cfg.Detection.Provider = DetectorRetinaFace
	}
	if cfg.Detection.Model == "" {
		cfg.Detection.Model = "det_10g.onnx"
	}
	if cfg.Detection.Threshold == 0 {
		cfg.Detection.Threshold = 0.5
	}
	if cfg.Detection.AWSRegion == "" {
		cfg.Detection.AWSRegion = "us-east-1"
	}
	if cfg.History.DefaultLimit == 0 {
		cfg.History.DefaultLimit = 50
	}
	if cfg.History.MaxLimit == 0 {
		cfg.History.MaxLimit = 500
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
