package config

import (
	"context"

	"github.com/jzelinskie/cobrautil"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/authzed/replicant/pkg/options"
	"github.com/authzed/replicant/pkg/streams"
	"github.com/authzed/replicant/pkg/util"
)

// NewConfigCmd configures a new cobra command for generating configs based on
// an existing database.
func NewConfigCmd(ctx context.Context, streams streams.IO) *cobra.Command {
	o := NewOptions(streams)
	cmd := &cobra.Command{
		Use:   "config",
		Short: "generate a replication config based on a connected database.",
		// logs to stderr so that stdout only contains the generated config
		PreRunE: util.ZeroLogPreRunEFunc(o.IO.ErrOut),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(ctx); err != nil {
				return err
			}
			return o.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&o.Store.URI, "store", "", "uri of the database to reflect (postgres:// or sqlite://)")
	cmd.Flags().StringVar(&o.Store.Namespace, "namespace", "", "postgres schema to reflect (default public)")
	cmd.Flags().StringSliceVar(&o.Store.Tables, "tables", nil, "only reflect these tables")
	cmd.Flags().StringVar(&o.Config.ConfigFile, "config", "", "existing config to merge into the generated one")
	cmd.Flags().StringVarP(&o.Format, "format", "f", "yaml", "output format (yaml or json)")
	cobrautil.RegisterZeroLogFlags(cmd.Flags(), "log")

	return cmd
}

// Options holds options for the config generator
type Options struct {
	streams.IO

	Store  options.StoreOptions
	Config options.ConfigOptions
	Format string

	printer options.ConfigPrinter
}

// NewOptions returns initialized Options
func NewOptions(ioStreams streams.IO) *Options {
	return &Options{
		IO:     ioStreams,
		Config: options.ConfigOptions{Reflect: true},
	}
}

// Complete fills out default values before running
func (o *Options) Complete(ctx context.Context) error {
	printer, err := options.NewConfigPrinter(o.Format, o.Out)
	if err != nil {
		return err
	}
	o.printer = printer
	if err := o.Store.Complete(); err != nil {
		return err
	}
	return o.Config.Complete(ctx, &o.Store)
}

// Run runs the command configured by Options.
func (o *Options) Run(ctx context.Context) error {
	types := o.Config.Registry.Types()
	log.Info().Int("types", len(types)).Msg("generated config")
	return o.printer(o.Config.Registry.ToConfig())
}
