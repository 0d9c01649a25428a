package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port        int               `yaml:"port"`
		APIKeys     map[string]string `yaml:"apiKeys"`
		CORSOrigins []string          `yaml:"corsOrigins"`
		RateLimit   struct {
			Burst     int     `yaml:"burst"`
			PerSecond float64 `yaml:"perSecond"`
		} `yaml:"rateLimit"`
		MaxBodyMB       int           `yaml:"maxBodyMB"`
		ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	} `yaml:"server"`

	Pipeline struct {
		Deadline       time.Duration `yaml:"deadline"`
		MaxAttempts    int           `yaml:"maxAttempts"`
		PlanAttempts   int           `yaml:"planAttempts"`
		LLMTimeout     time.Duration `yaml:"llmTimeout"`
		PersistTimeout time.Duration `yaml:"persistTimeout"` // run store and archive writes, after the reply
	} `yaml:"pipeline"`

	Sandbox struct {
		Backend     string        `yaml:"backend"` // process | docker
		Image       string        `yaml:"image"`
		Interpreter string        `yaml:"interpreter"`
		WorkDir     string        `yaml:"workDir"`
		MemoryMB    int           `yaml:"memoryMB"`
		Timeout     time.Duration `yaml:"timeout"`
		PidsMax     int           `yaml:"pidsMax"`
		MaxOutputKB int           `yaml:"maxOutputKB"`
		Workers     int           `yaml:"workers"`
		Network     bool          `yaml:"network"`
		// AllowUnconfined lets the process backend run without Landlock.
		AllowUnconfined bool `yaml:"allowUnconfined"`
	} `yaml:"sandbox"`

	Intake struct {
		AllowedTypes []string `yaml:"allowedTypes"`
		MaxFileMB    int      `yaml:"maxFileMB"`
		MaxTotalMB   int      `yaml:"maxTotalMB"`
	} `yaml:"intake"`

	LLM struct {
		Provider  string `yaml:"provider"` // openai | gemini
		APIKey    string `yaml:"apiKey"`
		Model     string `yaml:"model"`
		CodeModel string `yaml:"codeModel"`
		BaseURL   string `yaml:"baseURL"`
	} `yaml:"llm"`

	Database struct {
		Driver   string `yaml:"driver"` // mysql | postgres | sqlite | none
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		Path     string `yaml:"path"`
		SSLMode  string `yaml:"sslMode"`
	} `yaml:"database"`

	Minio struct {
		Enabled    bool   `yaml:"enabled"`
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // json | console
		RunDir string `yaml:"runDir"`
	} `yaml:"log"`
}

// Load baca file config.yaml. A missing file yields the defaults, so the
// binary runs with environment variables alone.
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// secrets dari environment menang atas file
func (c *Config) applyEnv() {
	switch c.LLM.Provider {
	case "gemini":
		setFromEnv(&c.LLM.APIKey, "GEMINI_API_KEY")
	default:
		setFromEnv(&c.LLM.APIKey, "OPENAI_API_KEY")
	}
	setFromEnv(&c.Database.Password, "ANALYST_DB_PASSWORD")
	setFromEnv(&c.Minio.SecretKey, "MINIO_SECRET_KEY")
}

func setFromEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.MaxBodyMB == 0 {
		c.Server.MaxBodyMB = 128
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Server.RateLimit.PerSecond > 0 && c.Server.RateLimit.Burst == 0 {
		c.Server.RateLimit.Burst = 5
	}

	if c.Pipeline.Deadline == 0 {
		c.Pipeline.Deadline = 180 * time.Second
	}
	if c.Pipeline.MaxAttempts == 0 {
		c.Pipeline.MaxAttempts = 3
	}
	if c.Pipeline.PlanAttempts == 0 {
		c.Pipeline.PlanAttempts = 3
	}
	if c.Pipeline.LLMTimeout == 0 {
		c.Pipeline.LLMTimeout = 60 * time.Second
	}
	if c.Pipeline.PersistTimeout == 0 {
		c.Pipeline.PersistTimeout = 10 * time.Second
	}

	if c.Sandbox.Backend == "" {
		c.Sandbox.Backend = "process"
	}
	if c.Sandbox.Image == "" {
		c.Sandbox.Image = "python:3.12-slim"
	}
	if c.Sandbox.Interpreter == "" {
		c.Sandbox.Interpreter = "python3"
	}
	if c.Sandbox.MemoryMB == 0 {
		c.Sandbox.MemoryMB = 1024
	}
	if c.Sandbox.Timeout == 0 {
		c.Sandbox.Timeout = 60 * time.Second
	}
	if c.Sandbox.PidsMax == 0 {
		c.Sandbox.PidsMax = 64
	}
	if c.Sandbox.MaxOutputKB == 0 {
		c.Sandbox.MaxOutputKB = 256
	}
	if c.Sandbox.Workers == 0 {
		c.Sandbox.Workers = 4
	}

	if c.Intake.MaxFileMB == 0 {
		c.Intake.MaxFileMB = 25
	}
	if c.Intake.MaxTotalMB == 0 {
		c.Intake.MaxTotalMB = 100
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "analyst.db"
	}
	if c.Database.Port == 0 {
		switch c.Database.Driver {
		case "mysql":
			c.Database.Port = 3306
		case "postgres":
			c.Database.Port = 5432
		}
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}

	if c.Minio.Region == "" {
		c.Minio.Region = "us-east-1"
	}
	if c.Minio.BucketName == "" {
		c.Minio.BucketName = "analyst-archive"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	var errs []string
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Pipeline.Deadline < 0 {
		errs = append(errs, "pipeline.deadline must be positive")
	}
	if c.Pipeline.MaxAttempts < 1 {
		errs = append(errs, "pipeline.maxAttempts must be at least 1")
	}
	if c.Pipeline.PlanAttempts < 1 {
		errs = append(errs, "pipeline.planAttempts must be at least 1")
	}
	switch c.Sandbox.Backend {
	case "process", "docker":
	default:
		errs = append(errs, fmt.Sprintf("sandbox.backend %q: want process or docker", c.Sandbox.Backend))
	}
	if c.Sandbox.MemoryMB < 16 {
		errs = append(errs, "sandbox.memoryMB must be at least 16")
	}
	if c.Sandbox.Timeout < 0 {
		errs = append(errs, "sandbox.timeout must be positive")
	}
	if c.Sandbox.Workers < 1 {
		errs = append(errs, "sandbox.workers must be at least 1")
	}
	if c.Intake.MaxFileMB < 0 || c.Intake.MaxTotalMB < 0 {
		errs = append(errs, "intake size caps must be positive")
	}
	switch c.LLM.Provider {
	case "openai", "gemini":
	default:
		errs = append(errs, fmt.Sprintf("llm.provider %q: want openai or gemini", c.LLM.Provider))
	}
	switch c.Database.Driver {
	case "mysql", "postgres":
		if c.Database.Host == "" || c.Database.Name == "" {
			errs = append(errs, "database.host and database.name are required for "+c.Database.Driver)
		}
	case "sqlite", "none":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q: want mysql, postgres, sqlite or none", c.Database.Driver))
	}
	if c.Minio.Enabled && c.Minio.Endpoint == "" {
		errs = append(errs, "minio.endpoint is required when minio is enabled")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q: want json or console", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// Helper untuk build DSN Postgres (URL form)
func (c *Config) PostgresDSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Database.User, c.Database.Password),
		Host:     fmt.Sprintf("%s:%d", c.Database.Host, c.Database.Port),
		Path:     "/" + c.Database.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.Database.SSLMode),
	}
	return u.String()
}
