package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transitfeed.yml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_FileAndDefaults(t *testing.T) {
	path := writeFile(t, `schema_version: v1
input: /var/log/mbta.sse
topic: mbta-run-42
poll_interval: 50ms
kafka:
  brokers: [broker-1:9092, broker-2:9092]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ConsistencyTopic != "mbta-run-42-data-consistency" {
		t.Fatalf("unexpected consistency topic %q", cfg.ConsistencyTopic)
	}
	if cfg.Partitions != 1 || cfg.Sink != "kafka" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.PollInterval != 50*time.Millisecond {
		t.Fatalf("want 50ms poll interval, got %s", cfg.PollInterval)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.SendTimeout != time.Second {
		t.Fatalf("unexpected kafka config: %+v", cfg.Kafka)
	}
}

func TestLoad_InvalidSchema(t *testing.T) {
	path := writeFile(t, "schema_version: v999\ninput: x\ntopic: y\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid schema_version")
	}
}

func TestLoad_EnvThenOverrides(t *testing.T) {
	t.Setenv("TRANSITFEED__TOPIC", "from-env")
	t.Setenv("TRANSITFEED__KAFKA__BROKERS", "env-broker:9092")
	t.Setenv("TRANSITFEED__INPUT", "/tmp/feed")

	cfg, err := Load("", func(f *File) { f.ConsistencyTopic = "progress" })
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Topic != "from-env" || cfg.ConsistencyTopic != "progress" {
		t.Fatalf("unexpected topics: %q %q", cfg.Topic, cfg.ConsistencyTopic)
	}
	if len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.Brokers[0] != "env-broker:9092" {
		t.Fatalf("unexpected brokers: %v", cfg.Kafka.Brokers)
	}
}

func TestLoad_ReportsAllMissingFields(t *testing.T) {
	_, err := Load("", func(f *File) { f.Partitions = -1 })
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"input file is required", "topic is required", "partitions must be positive"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestYAML_OmitsPassword(t *testing.T) {
	cfg, err := Load("", func(f *File) {
		f.Input, f.Topic = "/tmp/feed", "mbta"
		f.Kafka.SASLUser, f.Kafka.SASLPass = "user", "hunter2"
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	out, err := cfg.YAML()
	if err != nil {
		t.Fatalf("YAML: %v", err)
	}
	if strings.Contains(string(out), "hunter2") {
		t.Fatalf("password leaked:\n%s", out)
	}
	if !strings.Contains(string(out), "consistency_topic: mbta-data-consistency") {
		t.Fatalf("unexpected yaml:\n%s", out)
	}
}
