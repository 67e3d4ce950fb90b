package kafka

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

type Config struct {
	Brokers      []string      `koanf:"brokers" yaml:"brokers"`
	Version      string        `koanf:"version" yaml:"version"`
	ClientID     string        `koanf:"client_id" yaml:"client_id"`
	SendTimeout  time.Duration `koanf:"send_timeout" yaml:"send_timeout"`   // per-record ack wait
	AdminTimeout time.Duration `koanf:"admin_timeout" yaml:"admin_timeout"` // create-topic operation timeout
	TLSEn        bool          `koanf:"tls_enabled" yaml:"tls_enabled"`
	SASLUser     string        `koanf:"sasl_user" yaml:"sasl_user"`
	SASLPass     string        `koanf:"sasl_pass" yaml:"-"`
}

// ---------------------------------------------------------------------------
// defaults
// ---------------------------------------------------------------------------

const (
	DefaultBroker       = "localhost:9092"
	DefaultVersion      = "2.1.0"
	DefaultClientID     = "transitfeed"
	DefaultSendTimeout  = 1000 * time.Millisecond
	DefaultAdminTimeout = 5 * time.Second
)

func ApplyDefaults(c *Config) {
	if len(c.Brokers) == 0 {
		c.Brokers = []string{DefaultBroker}
	}
	if c.Version == "" {
		c.Version = DefaultVersion
	}
	if c.ClientID == "" {
		c.ClientID = DefaultClientID
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.AdminTimeout <= 0 {
		c.AdminTimeout = DefaultAdminTimeout
	}
}

// ---------------------------------------------------------------------------
// sarama
// ---------------------------------------------------------------------------

// saramaConfig builds the client configuration shared by the admin and the
// producer. Producer settings pin every record to the partition the caller
// names, keep at most one request in flight per broker connection so that
// sequential sends keep their order, and disable client side retries.
func saramaConfig(c Config) (*sarama.Config, error) {
	ver, err := sarama.ParseKafkaVersion(c.Version)
	if err != nil {
		return nil, fmt.Errorf("kafka version %q: %w", c.Version, err)
	}
	sc := sarama.NewConfig()
	sc.Version = ver
	sc.ClientID = c.ClientID
	if c.TLSEn {
		sc.Net.TLS.Enable = true
		sc.Net.TLS.Config = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if c.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User, sc.Net.SASL.Password = c.SASLUser, c.SASLPass
	}
	sc.Net.MaxOpenRequests = 1
	sc.Metadata.AllowAutoTopicCreation = false
	sc.Admin.Timeout = c.AdminTimeout

	sc.Producer.Partitioner = sarama.NewManualPartitioner
	sc.Producer.RequiredAcks = sarama.WaitForLocal
	sc.Producer.Timeout = c.SendTimeout
	sc.Producer.Retry.Max = 0
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Flush.MaxMessages = 1
	return sc, sc.Validate()
}
