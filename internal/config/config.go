package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"transitfeed/sink/kafka"
	"transitfeed/sink/stdout"
)

const (
	SupportedSchema = "v1"
	EnvPrefix       = "TRANSITFEED__"

	// ConsistencySuffix names the default consistency topic of a data topic.
	ConsistencySuffix = "-data-consistency"
)

type Log struct {
	Level string `koanf:"level" yaml:"level"`
	JSON  bool   `koanf:"json" yaml:"json"`
}

// File is the merged process configuration.
type File struct {
	SchemaVersion string `koanf:"schema_version" yaml:"schema_version"`

	Input            string        `koanf:"input" yaml:"input"`
	Topic            string        `koanf:"topic" yaml:"topic"`
	ConsistencyTopic string        `koanf:"consistency_topic" yaml:"consistency_topic"`
	Partitions       int           `koanf:"partitions" yaml:"partitions"`
	PollInterval     time.Duration `koanf:"poll_interval" yaml:"poll_interval"`

	Sink        string `koanf:"sink" yaml:"sink"` // kafka|stdout
	GRPCPort    int    `koanf:"grpc_port" yaml:"grpc_port"`
	MetricsPort int    `koanf:"metrics_port" yaml:"metrics_port"`

	Log    Log           `koanf:"log" yaml:"log"`
	Kafka  kafka.Config  `koanf:"kafka" yaml:"kafka"`
	Stdout stdout.Config `koanf:"stdout" yaml:"stdout"`
}

// Override adjusts the loaded configuration before defaults are applied,
// typically from command line flags.
type Override func(*File)

// Load merges an optional YAML file with env-vars (prefix `TRANSITFEED__`,
// delimiter `__`), applies overrides and defaults, and validates the result.
func Load(path string, overrides ...Override) (File, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return File{}, fmt.Errorf("config %s: %w", path, err)
		}
	}
	// schema version check (only when YAML is present)
	sv := k.String("schema_version")
	if sv != "" && sv != SupportedSchema {
		return File{}, fmt.Errorf("config schema_version %q not supported (want %q)", sv, SupportedSchema)
	}

	if err := k.Load(env.Provider(EnvPrefix, "__", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return File{}, err
	}

	var cfg File
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	for _, o := range overrides {
		o(&cfg)
	}
	applyDefaults(&cfg)
	return cfg, cfg.Validate()
}

// ---------------------------------------------------------------------------
// defaults
// ---------------------------------------------------------------------------

func applyDefaults(c *File) {
	if c.SchemaVersion == "" {
		c.SchemaVersion = SupportedSchema
	}
	if c.ConsistencyTopic == "" && c.Topic != "" {
		c.ConsistencyTopic = c.Topic + ConsistencySuffix
	}
	if c.Partitions == 0 {
		c.Partitions = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.Sink == "" {
		c.Sink = "kafka"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	kafka.ApplyDefaults(&c.Kafka)
}

// Validate reports every missing or inconsistent field at once.
func (c File) Validate() error {
	var problems []string
	if c.Input == "" {
		problems = append(problems, "input file is required")
	}
	if c.Topic == "" {
		problems = append(problems, "topic is required")
	}
	if c.Topic != "" && c.ConsistencyTopic == c.Topic {
		problems = append(problems, "consistency topic must differ from the data topic")
	}
	if c.Partitions < 1 {
		problems = append(problems, fmt.Sprintf("partitions must be positive, got %d", c.Partitions))
	}
	if c.Sink != "kafka" && c.Sink != "stdout" {
		problems = append(problems, fmt.Sprintf("sink %q not supported (want kafka or stdout)", c.Sink))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// YAML renders the effective configuration. Secrets are omitted.
func (c File) YAML() ([]byte, error) {
	return yamlv3.Marshal(c)
}
