// Package cmd implements the shmbox command line.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/srediag/shmbox/internal/config"
	"github.com/srediag/shmbox/internal/logging"
	"github.com/srediag/shmbox/pkg/mailbox"
)

var cmdLogger = logging.New("cmd", nil)

// app carries the configuration shared by every subcommand.
type app struct {
	v   *viper.Viper
	cfg *config.Config
}

// Execute runs the shmbox command line.
func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand builds the command tree around its own viper instance.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "shmbox",
		Short: "Single-slot shared memory mailbox",
		Long: `shmbox stores at most one message in a shared memory region.
A write replaces whatever is stored, a read hands the message over and
empties the slot. Concurrent callers never wait: the loser gets a busy error.`,
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.initConfig()
		},
	}

	// Global flags
	flags := root.PersistentFlags()
	flags.StringP("config", "c", "", "config file (default is $HOME/.config/shmbox/shmbox.yaml)")
	flags.String("region-dir", "", "directory holding the region file")
	flags.String("region-name", "", "region file name")
	flags.Int("log-level", logging.LevelWarn, "0=trace 1=debug 2=info 3=warn 4=error 5=silent")
	_ = a.v.BindPFlag("config", flags.Lookup("config"))
	_ = a.v.BindPFlag("region.dir", flags.Lookup("region-dir"))
	_ = a.v.BindPFlag("region.name", flags.Lookup("region-name"))
	_ = a.v.BindPFlag("log.level", flags.Lookup("log-level"))

	root.AddCommand(
		newServeCommand(a),
		newWriteCommand(a),
		newReadCommand(a),
		newInspectCommand(a),
		newStressCommand(a),
	)
	return root
}

func (a *app) initConfig() error {
	// Set defaults first so they're available even without a config file
	config.SetDefaults(a.v)

	cfgFile := a.v.GetString("config")
	if cfgFile != "" {
		a.v.SetConfigFile(cfgFile)
	} else {
		a.v.SetConfigName("shmbox")
		a.v.SetConfigType("yaml")
		a.v.AddConfigPath("$HOME/.config/shmbox")
		a.v.AddConfigPath(".")
	}
	config.BindEnv(a.v)

	// a missing default config file is fine, an explicit one must exist
	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	logging.SetLevel(cfg.Log.Level)
	cmdLogger.Debugf("using region %s", cfg.Region.Path())
	a.cfg = cfg
	return nil
}

func (a *app) openMailbox(ctx context.Context, create bool, opts ...mailbox.Option) (*mailbox.Mailbox, error) {
	shared := mailbox.SharedOptions{
		Path:   a.cfg.Region.Path(),
		Create: create,
	}
	var (
		mb  *mailbox.Mailbox
		err error
	)
	// attaching takes the guard too, so it gets the same retry policy
	if b := a.retryPolicy(); b != nil {
		mb, err = mailbox.OpenSharedWithRetry(ctx, shared, b, opts...)
	} else {
		mb, err = mailbox.OpenShared(ctx, shared, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("open mailbox %s: %w", a.cfg.Region.Path(), err)
	}
	return mb, nil
}

// retryPolicy is nil when busy mailboxes should fail fast.
func (a *app) retryPolicy() backoff.BackOff {
	if a.cfg.Retry.MaxAttempts == 0 {
		return nil
	}
	return mailbox.RetryPolicy(a.cfg.Retry.Interval, a.cfg.Retry.MaxAttempts)
}

func closeMailbox(mb *mailbox.Mailbox) {
	if err := mb.Close(); err != nil {
		cmdLogger.Warnf("close mailbox: %v", err)
	}
}
