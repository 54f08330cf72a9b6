package copier

import (
	"context"
	"fmt"

	"github.com/jzelinskie/cobrautil"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/authzed/replicant/pkg/dump"
	"github.com/authzed/replicant/pkg/load"
	"github.com/authzed/replicant/pkg/options"
	"github.com/authzed/replicant/pkg/streams"
	"github.com/authzed/replicant/pkg/util"
	"github.com/authzed/replicant/pkg/write"
)

// NewCopyCmd configures a new cobra command that dumps from one database and
// loads into another without an intermediate stream.
func NewCopyCmd(ctx context.Context, streams streams.IO) *cobra.Command {
	o := NewOptions(streams)
	cmd := &cobra.Command{
		Use:   "copy",
		Short: "copy records and everything they depend on between databases",
		Long: `Writes bypass hooks for the duration of the transaction. On Postgres this
sets session_replication_role, which disables triggers and foreign key checks
and needs a superuser or a role granted that setting. On SQLite foreign key
checks are deferred to commit; triggers still fire.`,
		PreRunE: util.ZeroLogPreRunEFunc(o.IO.ErrOut),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(ctx); err != nil {
				return err
			}
			return o.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&o.Source.URI, "source", "", "uri of the source database")
	cmd.Flags().StringVar(&o.Target.URI, "target", "", "uri of the target database")
	cmd.Flags().StringVar(&o.Source.Namespace, "source-namespace", "", "postgres schema to reflect on the source (default public)")
	cmd.Flags().StringVar(&o.Target.Namespace, "target-namespace", "", "postgres schema to reflect on the target (default public)")
	cmd.Flags().StringVar(&o.SourceConfig.ConfigFile, "source-config", "", "replication config applied on top of the source schema")
	cmd.Flags().StringVar(&o.TargetConfig.ConfigFile, "target-config", "", "replication config applied on top of the target schema")
	cmd.Flags().StringVar(&o.Roots.Type, "type", "", "type of the root records")
	cmd.Flags().StringSliceVar(&o.Roots.IDs, "id", nil, "primary key of a root record (repeatable)")
	cmd.Flags().StringSliceVar(&o.Roots.Where, "where", nil, "field=value condition selecting root records (repeatable)")
	cobrautil.RegisterZeroLogFlags(cmd.Flags(), "log")

	return cmd
}

// Options holds options for the copy command
type Options struct {
	streams.IO

	Source       options.StoreOptions
	Target       options.StoreOptions
	SourceConfig options.ConfigOptions
	TargetConfig options.ConfigOptions
	Roots        options.RootOptions
}

// NewOptions returns initialized Options
func NewOptions(ioStreams streams.IO) *Options {
	return &Options{
		IO:           ioStreams,
		SourceConfig: options.ConfigOptions{Reflect: true},
		TargetConfig: options.ConfigOptions{Reflect: true},
	}
}

// Complete fills out default values before running
func (o *Options) Complete(ctx context.Context) error {
	if err := o.Roots.Complete(); err != nil {
		return err
	}
	if err := o.Source.Complete(); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if err := o.Target.Complete(); err != nil {
		return fmt.Errorf("target: %w", err)
	}
	if err := o.SourceConfig.Complete(ctx, &o.Source); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if err := o.TargetConfig.Complete(ctx, &o.Target); err != nil {
		return fmt.Errorf("target: %w", err)
	}
	return nil
}

// Run runs the command configured by Options.
func (o *Options) Run(ctx context.Context) error {
	source, err := o.Source.Open(ctx, o.SourceConfig.Registry)
	if err != nil {
		return err
	}
	defer source.Close()

	target, err := o.Target.Open(ctx, o.TargetConfig.Registry)
	if err != nil {
		return err
	}
	defer target.Close()

	roots, err := o.Roots.Find(ctx, source, o.SourceConfig.Registry)
	if err != nil {
		return err
	}
	log.Info().Str("type", o.Roots.Type).Int("roots", len(roots)).Msg("copying")

	loadOpts := append(load.OptionsFromConfig(o.TargetConfig.Config), load.WithLogger(util.ComponentLogger("load")))
	l := load.New(target, o.TargetConfig.Registry, loadOpts...)

	var counter *write.CountingTupleWriter
	err = l.Stream(ctx, func(ctx context.Context, sink write.TupleWriter) error {
		counter = write.NewCountingTupleWriter(write.NewTupleWriter(sink))
		dumpOpts := append(dump.OptionsFromConfig(o.SourceConfig.Config), dump.WithLogger(util.ComponentLogger("dump")))
		return dump.New(source, o.SourceConfig.Registry, counter, dumpOpts...).Dump(ctx, roots)
	})
	if err != nil {
		return err
	}
	log.Info().EmbedObject(counter).Int("keymap", l.Keymap().Len()).Msg("copy complete")
	return nil
}
