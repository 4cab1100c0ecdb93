package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration unmarshals YAML strings like "3s" or "1500ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Server struct {
		Port           int      `yaml:"port"`
		AllowedOrigins []string `yaml:"allowedOrigins"`
	} `yaml:"server"`

	Verifier struct {
		BaseURL string   `yaml:"baseURL"`
		Timeout Duration `yaml:"timeout"`
	} `yaml:"verifier"`

	// OCR credentials live here, never in source.
	OCR struct {
		Backend  string `yaml:"backend"` // ai | hosted
		APIKey   string `yaml:"apiKey"`
		Model    string `yaml:"model"`
		Endpoint string `yaml:"endpoint"`
	} `yaml:"ocr"`

	Capture struct {
		Source   string   `yaml:"source"` // spool | command
		SpoolDir string   `yaml:"spoolDir"`
		Command  []string `yaml:"command"`
	} `yaml:"capture"`

	Scanner struct {
		PollInterval        Duration `yaml:"pollInterval"`
		RequireConfirmation bool     `yaml:"requireConfirmation"`
		ResultDisplay       Duration `yaml:"resultDisplay"`
		HistoryLimit        int      `yaml:"historyLimit"`
	} `yaml:"scanner"`

	Journal struct {
		Driver string `yaml:"driver"` // sqlite | postgres | off
		Path   string `yaml:"path"`   // sqlite file
		DSN    string `yaml:"dsn"`    // postgres
	} `yaml:"journal"`

	Session struct {
		Dir string `yaml:"dir"`
	} `yaml:"session"`

	Minio struct {
		Enabled    bool   `yaml:"enabled"`
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`
}

// Load reads the YAML config file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8321
	}
	if c.Verifier.Timeout == 0 {
		c.Verifier.Timeout = Duration(15 * time.Second)
	}
	if c.OCR.Backend == "" {
		c.OCR.Backend = "ai"
	}
	if c.Capture.Source == "" {
		c.Capture.Source = "spool"
	}
	if c.Scanner.PollInterval == 0 {
		c.Scanner.PollInterval = Duration(3 * time.Second)
	}
	if c.Scanner.ResultDisplay == 0 {
		c.Scanner.ResultDisplay = Duration(3 * time.Second)
	}
	if c.Scanner.HistoryLimit == 0 {
		c.Scanner.HistoryLimit = 20
	}
	if c.Journal.Driver == "" {
		c.Journal.Driver = "sqlite"
	}
	if c.Journal.Path == "" {
		c.Journal.Path = "gatescan.db"
	}
	if c.Session.Dir == "" {
		c.Session.Dir = ".gatescan-session"
	}
}

func (c *Config) validate() error {
	if c.Verifier.BaseURL == "" {
		return fmt.Errorf("verifier.baseURL is required")
	}
	switch c.OCR.Backend {
	case "ai", "hosted":
	default:
		return fmt.Errorf("ocr.backend must be ai or hosted, got %q", c.OCR.Backend)
	}
	switch c.Capture.Source {
	case "spool", "command":
	default:
		return fmt.Errorf("capture.source must be spool or command, got %q", c.Capture.Source)
	}
	switch c.Journal.Driver {
	case "sqlite", "postgres", "off":
	default:
		return fmt.Errorf("journal.driver must be sqlite, postgres or off, got %q", c.Journal.Driver)
	}
	if c.Journal.Driver == "postgres" && c.Journal.DSN == "" {
		return fmt.Errorf("journal.dsn is required for the postgres driver")
	}
	return nil
}
