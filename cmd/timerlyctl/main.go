// timerlyctl talks to Timerly displays directly: it browses the network
// for them, reads a display's timer and sends it commands.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nerrad567/timerly-core/internal/device"
	"github.com/nerrad567/timerly-core/internal/infrastructure/config"
	"github.com/nerrad567/timerly-core/internal/infrastructure/logging"
)

var version = "dev"

// options shared by every subcommand.
type options struct {
	timeout time.Duration
	name    string
	debug   bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	_ = godotenv.Load() //nolint:errcheck // .env is optional

	opts := &options{}
	root := &cobra.Command{
		Use:           "timerlyctl",
		Short:         "Browse and control Timerly displays",
		Long:          "timerlyctl finds Timerly displays over mDNS, reads their running timer and sends them commands.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().DurationVarP(&opts.timeout, "timeout", "t", envDuration("TIMERLY_CTL_TIMEOUT", 5*time.Second), "Request timeout")
	root.PersistentFlags().StringVarP(&opts.name, "name", "n", getEnvOrDefault("TIMERLY_CTL_NAME", "timerlyctl"), "Device name used in output and errors")
	root.PersistentFlags().BoolVarP(&opts.debug, "debug", "d", false, "Enable debug logging")

	root.AddCommand(
		newBrowseCmd(opts),
		newStatusCmd(opts),
		newStartCmd(opts),
		newCancelCmd(opts),
		newDoorbellCmd(opts),
		newAlertCmd(opts),
	)
	return root
}

// logger writes text logs to stderr.
func (o *options) logger() *logging.Logger {
	level := "warn"
	if o.debug {
		level = "debug"
	}
	return logging.New(config.LoggingConfig{Level: level, Format: "text", Output: "stderr"}, version)
}

// parseTarget turns "address:port" into a Device. A bare address uses the
// default display port.
func (o *options) parseTarget(target string) (device.Device, error) {
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		host, portStr = target, strconv.Itoa(device.DefaultPort)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return device.Device{}, fmt.Errorf("invalid port in %q", target)
	}
	if host == "" {
		return device.Device{}, fmt.Errorf("missing address in %q", target)
	}
	return device.New(o.name, host, port), nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
