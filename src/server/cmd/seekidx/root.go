package main

import (
	"context"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pachyderm/seekidx/src/internal/cmdutil"
	"github.com/pachyderm/seekidx/src/internal/config"
	"github.com/pachyderm/seekidx/src/internal/errors"
	"github.com/pachyderm/seekidx/src/internal/log"
	"github.com/pachyderm/seekidx/src/internal/pctx"
)

type configKey struct{}

func withConfig(ctx context.Context, conf *config.Configuration) context.Context {
	return context.WithValue(ctx, configKey{}, conf)
}

func configFrom(ctx context.Context) *config.Configuration {
	if conf, ok := ctx.Value(configKey{}).(*config.Configuration); ok {
		return conf
	}
	return config.Default()
}

func newRootCmd(out io.Writer) *cobra.Command {
	var (
		configFile string
		logLevel   string
		stop       func()
	)
	root := &cobra.Command{
		Use:           "seekidx",
		Short:         "Inspect, verify and copy seek indexes.",
		SilenceUsage:  true, // This avoids usage on errors.
		SilenceErrors: true, // We print our own errors.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := log.ParseLevel(logLevel); err != nil {
				return err
			}
			var decoders []cmdutil.Decoder
			if configFile != "" {
				decoders = append(decoders, &cmdutil.YAMLDecoder{Path: configFile})
			}
			conf, err := config.Load(decoders...)
			if err != nil {
				return errors.Wrap(err, "load configuration")
			}
			ctx := cmd.Context()
			if !log.HasLogger(ctx) {
				log.InitLogger()
				ctx = pctx.Background("seekidx")
			}
			ctx, stop = signal.NotifyContext(ctx, os.Interrupt)
			log.Debug(ctx, "configuration loaded", zap.String("configFile", configFile), zap.Strings("etcd", conf.Lock.EtcdEndpoints))
			cmd.SetContext(withConfig(ctx, conf))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if stop != nil {
				stop()
			}
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&configFile, "config", "", "YAML file of configuration values; the environment takes precedence.")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info or error.")
	root.PersistentFlags().BoolVar(&cmdutil.PrintErrorStacks, "stacks", false, "Print stack traces with errors.")
	root.AddCommand(inspectCmd(), verifyCmd(), lookupCmd(), copyCmd())
	return root
}
