package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"transitfeed/internal/config"
	"transitfeed/internal/engine"
	"transitfeed/internal/logging"
	"transitfeed/internal/transport"
)

type flags struct {
	configPath      string
	kafkaAddr       string
	fileName        string
	topicName       string
	consistencyName string
	sinkName        string
	partitions      int
	grpcPort        int
	metricsPort     int
}

// overrides turns explicitly set flags into config overrides, so unset flags
// never shadow the file or the environment.
func (f *flags) overrides(cmd *cobra.Command) config.Override {
	changed := func(name string) bool { return cmd.Flags().Changed(name) }
	return func(c *config.File) {
		if changed("kafka-addr") {
			c.Kafka.Brokers = strings.Split(f.kafkaAddr, ",")
		}
		if changed("file-name") {
			c.Input = f.fileName
		}
		if changed("topic-name") {
			c.Topic = f.topicName
		}
		if changed("consistency-name") {
			c.ConsistencyTopic = f.consistencyName
		}
		if changed("sink") {
			c.Sink = f.sinkName
		}
		if changed("partitions") {
			c.Partitions = f.partitions
		}
		if changed("grpc-port") {
			c.GRPCPort = f.grpcPort
		}
		if changed("metrics-port") {
			c.MetricsPort = f.metricsPort
		}
	}
}

func (f *flags) load(cmd *cobra.Command) (config.File, error) {
	cfg, err := config.Load(f.configPath, f.overrides(cmd))
	if err != nil {
		return cfg, err
	}
	logging.Configure(logging.FromEnv(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON}))
	return cfg, nil
}

var bootstrap = engine.Bootstrap

func run(ctx context.Context, cfg config.File) error {
	e, err := bootstrap(ctx, cfg)
	if errors.Is(err, context.Canceled) {
		logging.L().Info("interrupted during bootstrap")
		return nil
	}
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer func() {
		if err := e.Close(); err != nil {
			logging.L().Warn("shutdown", "err", err)
		}
	}()
	if err := e.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newRootCmd(f *flags) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "transitfeed",
		Short: "Republish a server-sent-event transit feed into Kafka",
		Long: `transitfeed tails a file of server-sent-event lines, writes every event to a
data topic and records its logical timestamp on a companion consistency topic.

Examples:
  transitfeed -f /var/log/mbta.sse -t mbta
  transitfeed -f feed.sse -t mbta --kafka-addr broker-1:9092,broker-2:9092
  transitfeed -f feed.sse -t mbta --sink stdout`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "YAML config file")
	pf.StringVar(&f.kafkaAddr, "kafka-addr", "", "kafka bootstrap address HOST:PORT (default localhost:9092)")
	pf.StringVarP(&f.fileName, "file-name", "f", "", "path to the file the feed is logged to")
	pf.StringVarP(&f.topicName, "topic-name", "t", "", "data topic to write to")
	pf.StringVarP(&f.consistencyName, "consistency-name", "c", "", "consistency topic (default TOPIC-data-consistency)")
	pf.StringVar(&f.sinkName, "sink", "", "kafka or stdout (dry run)")
	pf.IntVar(&f.partitions, "partitions", 0, "partitions per topic (default 1)")
	pf.IntVar(&f.grpcPort, "grpc-port", 0, "gRPC health port, 0 disables")
	pf.IntVar(&f.metricsPort, "metrics-port", 0, "prometheus port, 0 disables")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load(cmd)
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	rootCmd.AddCommand(configCmd)

	var timeout time.Duration
	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Query the health service of a running instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			port := f.grpcPort
			if port == 0 {
				return errors.New("--grpc-port is required")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			status, err := transport.Check(ctx, port)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status.String())
			return nil
		},
	}
	healthCmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "request timeout")
	rootCmd.AddCommand(healthCmd)
	return rootCmd
}

func main() {
	logging.InitFromEnv()
	if err := newRootCmd(&flags{}).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
