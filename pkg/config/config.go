package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"MacroPulse/pkg/util"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"45s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		RateLimit       struct {
			RPS   float64 `yaml:"rps" default:"20" validate:"gte=0"`
			Burst int     `yaml:"burst" default:"40" validate:"gte=0"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`
	Log struct {
		Level     string `yaml:"level" default:"info" validate:"oneof=debug info warn error fatal panic"`
		Format    string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output    string `yaml:"output" default:"stdout"`
		Collector struct {
			Enabled       bool          `yaml:"enabled"`
			FlushInterval time.Duration `yaml:"flush_interval" default:"1m"`
			MaxEntries    int           `yaml:"max_entries" default:"1000"`
		} `yaml:"collector"`
	} `yaml:"log"`
	Cycle struct {
		Deadline   time.Duration `yaml:"deadline" default:"30s" validate:"gt=0"`
		Workers    int           `yaml:"workers" default:"8" validate:"gte=1"`
		Schedule   string        `yaml:"schedule" default:"@every 5m"`
		RunOnStart bool          `yaml:"run_on_start"`
		WarmStart  bool          `yaml:"warm_start"`
	} `yaml:"cycle"`
	Retry struct {
		Attempts       int           `yaml:"attempts" default:"3" validate:"gte=1,lte=10"`
		AttemptTimeout time.Duration `yaml:"attempt_timeout" default:"10s" validate:"gt=0"`
		BackoffMin     time.Duration `yaml:"backoff_min" default:"500ms"`
		BackoffMax     time.Duration `yaml:"backoff_max" default:"5s"`
	} `yaml:"retry"`
	Consensus struct {
		TieBreak  string `yaml:"tie_break" default:"risk_off" validate:"oneof=risk_on risk_off indeterminate"`
		MinVoters int    `yaml:"min_voters" default:"1" validate:"gte=1"`
	} `yaml:"consensus"`
	Fallback struct {
		Backend   string             `yaml:"backend" default:"memory" validate:"oneof=memory redis layered"`
		MaxAge    time.Duration      `yaml:"max_age"`
		KeyPrefix string             `yaml:"key_prefix" default:"macropulse:lkg:"`
		Seeds     map[string]float64 `yaml:"seeds"`
	} `yaml:"fallback"`
	Redis struct {
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		ReportTopic  string   `yaml:"report_topic" default:"macropulse.reports"`
		LogTopic     string   `yaml:"log_topic" default:"macropulse.logs"`
		IngestTopic  string   `yaml:"ingest_topic" default:"macropulse.fallback"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"snappy" validate:"omitempty,oneof=none gzip snappy lz4 zstd"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"macropulse"`
			Workers    int           `yaml:"workers" default:"2"`
			BufferSize int           `yaml:"buffer_size" default:"256"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"200ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"macropulse"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`
	Sources    []SourceConfig    `yaml:"sources" validate:"dive"`
	Indicators []IndicatorConfig `yaml:"indicators" validate:"required,min=1,dive"`
}

// SourceConfig configures one provider adapter. Which fields apply depends on Type.
type SourceConfig struct {
	Name    string        `yaml:"name" validate:"required"`
	Type    string        `yaml:"type" validate:"required,oneof=fred httpjson stream static"`
	Timeout time.Duration `yaml:"timeout" default:"10s"`

	// fred
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`

	// httpjson
	URL          string            `yaml:"url"`
	Headers      map[string]string `yaml:"headers"`
	ValuePath    string            `yaml:"value_path"`
	PreviousPath string            `yaml:"previous_path"`

	// stream
	Symbols        []string      `yaml:"symbols"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
	PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
	MaxAge         time.Duration `yaml:"max_age"`

	// static
	Values map[string]float64 `yaml:"values"`

	// guard and cache, any type
	RatePerSecond    float64       `yaml:"rate_per_second" validate:"gte=0"`
	Burst            int           `yaml:"burst" validate:"gte=0"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout" default:"30s"`
	CacheTTL         time.Duration `yaml:"cache_ttl"`
}

// IndicatorConfig describes one tracked indicator.
type IndicatorConfig struct {
	ID          string   `yaml:"id" validate:"required"`
	Source      string   `yaml:"source" validate:"required"`
	Symbol      string   `yaml:"symbol"`
	Direction   string   `yaml:"direction" validate:"required,oneof=higher_is_risk_on higher_is_risk_off"`
	Threshold   *float64 `yaml:"threshold"`
	NeutralBand float64  `yaml:"neutral_band" validate:"gte=0"`
	Precision   *int32   `yaml:"precision" validate:"omitempty,gte=0,lte=12"`
	Inputs      []string `yaml:"inputs"`
	Op          string   `yaml:"op" validate:"omitempty,oneof=diff ratio"`
}

const derivedSource = "derived"

var validate = validator.New()

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	c, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := read(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Parse decodes YAML bytes and applies defaults without validating.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	return &c, nil
}

func read(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

func (c *Config) applyEnv() {
	if v := os.Getenv("MACROPULSE_ENV"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("MACROPULSE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	c.Cycle.Workers = util.ParseIntDefault(os.Getenv("MACROPULSE_CYCLE_WORKERS"), c.Cycle.Workers)
	c.Cycle.Deadline = util.ParseDurationDefault(os.Getenv("MACROPULSE_CYCLE_DEADLINE"), c.Cycle.Deadline)
	if v := os.Getenv("MACROPULSE_SCHEDULE"); v != "" {
		c.Cycle.Schedule = v
	}
	if v := os.Getenv("FRED_API_KEY"); v != "" {
		for i := range c.Sources {
			if c.Sources[i].Type == "fred" && c.Sources[i].APIKey == "" {
				c.Sources[i].APIKey = v
			}
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = util.SplitList(v)
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Retry.BackoffMin > c.Retry.BackoffMax {
		return fmt.Errorf("retry.backoff_min must not exceed retry.backoff_max")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}

	sources := make(map[string]SourceConfig, len(c.Sources))
	for _, s := range c.Sources {
		if _, dup := sources[s.Name]; dup {
			return fmt.Errorf("duplicate source %q", s.Name)
		}
		if s.Name == derivedSource {
			return fmt.Errorf("source name %q is reserved", derivedSource)
		}
		switch s.Type {
		case "fred":
			if s.APIKey == "" {
				return fmt.Errorf("source %s: api_key is required", s.Name)
			}
		case "httpjson":
			if s.URL == "" || s.ValuePath == "" {
				return fmt.Errorf("source %s: url and value_path are required", s.Name)
			}
		case "stream":
			if s.URL == "" {
				return fmt.Errorf("source %s: url is required", s.Name)
			}
		}
		sources[s.Name] = s
	}

	ids := make(map[string]IndicatorConfig, len(c.Indicators))
	for _, ic := range c.Indicators {
		if _, dup := ids[ic.ID]; dup {
			return fmt.Errorf("duplicate indicator %q", ic.ID)
		}
		ids[ic.ID] = ic
	}
	for _, ic := range c.Indicators {
		if ic.Source != derivedSource {
			if _, ok := sources[ic.Source]; !ok {
				return fmt.Errorf("indicator %s: unknown source %q", ic.ID, ic.Source)
			}
			continue
		}
		if len(ic.Inputs) != 2 || ic.Op == "" {
			return fmt.Errorf("indicator %s: derived indicators need 2 inputs and an op", ic.ID)
		}
		for _, in := range ic.Inputs {
			dep, ok := ids[in]
			if !ok {
				return fmt.Errorf("indicator %s: unknown input %q", ic.ID, in)
			}
			if dep.Source == derivedSource {
				return fmt.Errorf("indicator %s: input %q is itself derived", ic.ID, in)
			}
		}
	}
	for id := range c.Fallback.Seeds {
		if _, ok := ids[id]; !ok {
			return fmt.Errorf("fallback seed for unknown indicator %q", id)
		}
	}
	return nil
}

// SourceNames returns the configured source names in order.
func (c *Config) SourceNames() []string {
	out := make([]string, 0, len(c.Sources))
	for _, s := range c.Sources {
		out = append(out, s.Name)
	}
	return out
}

// IsProduction reports whether the environment is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}
