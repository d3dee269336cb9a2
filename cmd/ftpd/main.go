// Command ftpd runs the FTP server defined in package server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gonzalop/ftpd/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "ftpd",
		Short: "A single-threaded, poll-driven FTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v)
		},
	}

	flags := cmd.Flags()
	flags.String("root", ".", "filesystem root to serve")
	flags.Int("port", 21, "port to listen on")
	flags.String("user", "", "required username (empty allows any)")
	flags.String("pass", "", "required password (empty allows none)")
	flags.Bool("anon-write", false, "allow anonymous users to write")
	flags.Bool("disable-anonymous", false, "disable anonymous login")
	flags.Bool("allow-privileged-port", false, "allow binding to a port below 1024")
	flags.Int64("bandwidth-limit", 0, "aggregate bytes/sec across all sessions (stored in the config; not enforced)")
	flags.Int64("bandwidth-limit-per-session", 0, "RETR bytes/sec per session (0 = unlimited)")
	flags.Int("pasv-port-lo", 5001, "low end of the passive port pool")
	flags.Int("pasv-port-hi", 10000, "high end of the passive port pool (exclusive)")
	flags.String("config", "", "path to a config file (yaml/json/toml)")
	flags.String("log-level", "info", "logrus log level")

	v.BindPFlags(flags)
	v.SetEnvPrefix("FTPD")
	v.AutomaticEnv()

	cobra.OnInitialize(func() {
		if cfgFile := v.GetString("config"); cfgFile != "" {
			v.SetConfigFile(cfgFile)
			_ = v.ReadInConfig()
		}
	})

	return cmd
}

func run(v *viper.Viper) error {
	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(v.GetString("log-level")); err == nil {
		logger.SetLevel(lvl)
	}

	cfg := server.DefaultConfig()
	cfg.User = v.GetString("user")
	cfg.Pass = v.GetString("pass")
	cfg.Port = v.GetInt("port")
	cfg.AllowPrivilegedPort = v.GetBool("allow-privileged-port")
	cfg.BandwidthLimit = v.GetInt64("bandwidth-limit")
	cfg.BandwidthLimitPerSession = v.GetInt64("bandwidth-limit-per-session")
	cfg.PasvPortLo = v.GetInt("pasv-port-lo")
	cfg.PasvPortHi = v.GetInt("pasv-port-hi")

	rootPath := v.GetString("root")
	driver, err := server.NewFSDriver(rootPath,
		server.WithDisableAnonymous(v.GetBool("disable-anonymous")),
		server.WithAnonWrite(v.GetBool("anon-write")),
	)
	if err != nil {
		return fmt.Errorf("ftpd: %w", err)
	}

	metrics := server.NewPrometheusMetrics(prometheus.DefaultRegisterer)

	srv, err := server.NewServer(
		server.WithDriver(driver),
		server.WithConfigValue(cfg),
		server.WithLogger(logger),
		server.WithMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("ftpd: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.WithField("port", cfg.Port).Info("starting ftpd")
	if err := srv.ListenAndServe(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
