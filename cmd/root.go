// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/Thermoquad/sspctl/pkg/ssp"
	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string

	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Logging
	debug    bool
	logLevel string
)

var log = logrus.StandardLogger().WithField("component", "sspctl")

var rootCmd = &cobra.Command{
	Use:   "sspctl",
	Short: "SSP cash peripheral host and analyzer",
	Long: `sspctl - A CLI tool for driving and analyzing SSP (Smiley Secure Protocol)
cash peripherals: note validators, SMART Hoppers and SMART Payouts.

Passive commands (raw_log, monitor, packet_test, replay) only listen to the
line. Active commands (probe, send, poll) act as the SSP master and own the
sequence bit, the encryption counter and the retry policy.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 9600]
  WebSocket: --url ws://host/path [--username user]

Settings may also come from a YAML config file (--config, or sspctl.yaml in
the working directory or ~/.config/sspctl) and SSP_* environment variables,
for example SSP_ADDRESS=16 or SSP_FIXED_KEY=0123456701234567.

For WebSocket authentication, the password is read from the SSP_PASSWORD
environment variable, or prompted interactively if not set.`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Config file (default sspctl.yaml)")

	// Serial connection flags
	flags.StringVarP(&portName, "port", "p", "", "Serial port device")
	flags.IntVarP(&baudRate, "baud", "b", ssp.DefaultBaudRate, "Baud rate (serial only)")

	// WebSocket connection flags
	flags.StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	flags.StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	flags.BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Session flags
	defaults := ssp.DefaultConfig()
	flags.Uint8P("address", "a", defaults.Address, "SSP slave address (0-127)")
	flags.Duration("timeout", defaults.Timeout, "Reply timeout per attempt")
	flags.Int("max-attempts", defaults.MaxAttempts, "Transmissions per command before giving up")
	flags.Bool("encrypt-all", defaults.EncryptAll, "Encrypt every command once a key is negotiated")
	flags.String("fixed-key", defaults.FixedKey, "Fixed half of the encryption key (16 hex digits)")
	flags.Int("key-bits", defaults.KeyBits, "Prime size for the key exchange")
	flags.Duration("poll-interval", defaults.PollInterval, "Polling cadence")
	flags.Bool("poll-with-ack", defaults.PollWithAck, "Poll with POLL_WITH_ACK and acknowledge events")

	flags.BoolVar(&debug, "debug", false, "Enable debug logging")
	flags.StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")

	for flag, key := range map[string]string{
		"address":       "address",
		"timeout":       "timeout",
		"max-attempts":  "max_attempts",
		"encrypt-all":   "encrypt_all",
		"fixed-key":     "fixed_key",
		"key-bits":      "key_bits",
		"poll-interval": "poll_interval",
		"poll-with-ack": "poll_with_ack",
		"port":          "port",
		"baud":          "baud",
		"url":           "url",
		"username":      "username",
		"no-ssl-verify": "no_ssl_verify",
		"log-level":     "log_level",
	} {
		_ = viper.BindPFlag(key, flags.Lookup(flag))
	}
}

// initConfig loads the config file and environment and configures logging
func initConfig(cmd *cobra.Command, args []string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("sspctl")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "sspctl"))
		}
	}
	viper.SetEnvPrefix("SSP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return oops.In("config").With("file", cfgFile).Wrapf(err, "reading config")
		}
	}

	// Connection flags may come from the file or environment too
	portName = viper.GetString("port")
	baudRate = viper.GetInt("baud")
	wsURL = viper.GetString("url")
	wsUsername = viper.GetString("username")
	wsNoSSLVerify = viper.GetBool("no_ssl_verify")

	if err := setupLogging(); err != nil {
		return err
	}
	if used := viper.ConfigFileUsed(); used != "" {
		log.WithField("file", used).Debug("using config file")
	}
	return nil
}

func setupLogging() error {
	logrus.SetOutput(os.Stderr)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})

	level := logrus.InfoLevel
	if name := viper.GetString("log_level"); name != "" {
		parsed, err := logrus.ParseLevel(name)
		if err != nil {
			return oops.In("config").With("log_level", name).Wrapf(err, "parsing log level")
		}
		level = parsed
	}
	if debug && level < logrus.DebugLevel {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)
	return nil
}

// sessionConfig builds the session configuration from flags, environment
// and config file
func sessionConfig() (ssp.Config, error) {
	cfg := ssp.DefaultConfig()
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, oops.In("config").Wrapf(err, "decoding session config")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
