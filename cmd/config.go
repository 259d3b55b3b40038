// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"io"
	"os"

	"github.com/Thermoquad/sspctl/pkg/ssp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration after merging defaults, the config file,
SSP_* environment variables and command line flags.

The output is valid YAML and can be saved as sspctl.yaml.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := sessionConfig()
		if err != nil {
			return err
		}
		return writeConfig(os.Stdout, cfg)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}

// effectiveConfig is the file layout of sspctl.yaml
type effectiveConfig struct {
	Port        string `yaml:"port,omitempty"`
	Baud        int    `yaml:"baud"`
	URL         string `yaml:"url,omitempty"`
	Username    string `yaml:"username,omitempty"`
	NoSSLVerify bool   `yaml:"no_ssl_verify,omitempty"`
	LogLevel    string `yaml:"log_level,omitempty"`

	ssp.Config `yaml:",inline"`
}

func writeConfig(w io.Writer, cfg ssp.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()

	return enc.Encode(effectiveConfig{
		Port:        viper.GetString("port"),
		Baud:        viper.GetInt("baud"),
		URL:         viper.GetString("url"),
		Username:    viper.GetString("username"),
		NoSSLVerify: viper.GetBool("no_ssl_verify"),
		LogLevel:    viper.GetString("log_level"),
		Config:      cfg,
	})
}
