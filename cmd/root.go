// Package cmd wires the prosody command line.
package cmd

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/maastricht-university/prosody-stream/config"
	"github.com/maastricht-university/prosody-stream/logger"
)

// app carries the state shared by every subcommand once the root pre-run
// has loaded configuration.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Root
	log     *logrus.Logger
}

// Execute builds the command tree and runs it.
func Execute(ctx context.Context) error {
	v, err := config.New()
	if err != nil {
		return err
	}
	root, err := RootCommand(v)
	if err != nil {
		return err
	}
	return root.ExecuteContext(ctx)
}

// RootCommand creates the root command on top of v. Flags are bound to v so
// they take precedence over file and environment values.
func RootCommand(v *viper.Viper) (*cobra.Command, error) {
	a := &app{v: v}

	rootCmd := &cobra.Command{
		Use:           "prosody",
		Short:         "Live emotion tracking over a streamed recording",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.initialize(cmd)
		},
	}

	if err := setupFlags(rootCmd, a); err != nil {
		return nil, err
	}

	rootCmd.AddCommand(
		recordCommand(a),
		checkCommand(a),
		configCommand(a),
	)
	return rootCmd, nil
}

func setupFlags(rootCmd *cobra.Command, a *app) error {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&a.cfgFile, "config", "c", "", "Path to a YAML config file")
	pf.String("log-level", a.v.GetString("pipeline.log_level"), "Log level: trace, debug, info, warn, error")
	pf.String("log-format", a.v.GetString("pipeline.log_format"), "Log format: text or json")
	pf.String("emotion-url", a.v.GetString("services.emotion.url"), "Base URL of the emotion service")
	pf.String("asr-url", a.v.GetString("services.asr.url"), "Base URL of the transcription service (empty disables it)")

	return bindFlags(a.v, pf, map[string]string{
		"pipeline.log_level":   "log-level",
		"pipeline.log_format":  "log-format",
		"services.emotion.url": "emotion-url",
		"services.asr.url":     "asr-url",
	})
}

func (a *app) initialize(cmd *cobra.Command) error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logger.NewWithOutput(cmd.ErrOrStderr(), cfg.Pipeline.LogLvl, cfg.Pipeline.LogFormat)
	a.log.WithFields(logrus.Fields{
		"config": a.v.ConfigFileUsed(),
		"name":   cfg.Pipeline.Name,
	}).Debug("configuration loaded")
	return nil
}

// bindFlags maps config keys onto flag names.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) error {
	for key, name := range keys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", name, err)
		}
	}
	return nil
}
