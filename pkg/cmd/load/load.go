package load

import (
	"context"

	"github.com/jzelinskie/cobrautil"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/authzed/replicant/pkg/codec"
	"github.com/authzed/replicant/pkg/load"
	"github.com/authzed/replicant/pkg/options"
	"github.com/authzed/replicant/pkg/store"
	"github.com/authzed/replicant/pkg/store/memory"
	"github.com/authzed/replicant/pkg/streams"
	"github.com/authzed/replicant/pkg/util"
)

// NewLoadCmd configures a new cobra command that loads a tuple stream into a
// database in a single transaction.
func NewLoadCmd(ctx context.Context, streams streams.IO) *cobra.Command {
	o := NewOptions(streams)
	cmd := &cobra.Command{
		Use:   "load",
		Short: "load a tuple stream into a database in one transaction",
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
	cmd.Flags().StringVar(&o.Target.URI, "target", "", "uri of the target database (postgres:// or sqlite://)")
	cmd.Flags().StringVar(&o.Target.Namespace, "namespace", "", "postgres schema to reflect (default public)")
	cmd.Flags().StringSliceVar(&o.Target.Tables, "tables", nil, "only reflect these tables")
	cmd.Flags().StringVar(&o.Config.ConfigFile, "config", "", "path to a replication config applied on top of the reflected schema")
	cmd.Flags().StringVarP(&o.InputFile, "input", "i", "-", "file to read the stream from")
	cmd.Flags().BoolVar(&o.DryRun, "dry-run", false, "load into an empty in-memory store and log the records instead of writing to the target")
	cobrautil.RegisterZeroLogFlags(cmd.Flags(), "log")

	return cmd
}

// Options holds options for the load command
type Options struct {
	streams.IO

	Target    options.StoreOptions
	Config    options.ConfigOptions
	InputFile string
	DryRun    bool
}

// NewOptions returns initialized Options
func NewOptions(ioStreams streams.IO) *Options {
	return &Options{
		IO: ioStreams,
	}
}

// Complete fills out default values before running. A dry run without a
// target needs a config file that declares every type.
func (o *Options) Complete(ctx context.Context) error {
	if o.DryRun && o.Target.URI == "" {
		return o.Config.Complete(ctx, &o.Target)
	}
	if err := o.Target.Complete(); err != nil {
		return err
	}
	o.Config.Reflect = true
	return o.Config.Complete(ctx, &o.Target)
}

// Run runs the command configured by Options.
func (o *Options) Run(ctx context.Context) error {
	in, err := o.IO.Input(o.InputFile)
	if err != nil {
		return err
	}
	defer in.Close()

	var target store.Target
	if o.DryRun {
		log.Info().Msg("dry run: loading into an empty in-memory store")
		target = memory.New(o.Config.Registry)
	} else {
		s, err := o.Target.Open(ctx, o.Config.Registry)
		if err != nil {
			return err
		}
		defer s.Close()
		target = s
	}

	dec := codec.NewDecoder(in)
	h, ok, err := dec.ReadHeader()
	if err != nil {
		return err
	}
	if ok {
		log.Info().EmbedObject(util.LoggedHeader{Header: h}).Msg("reading session")
	}

	opts := append(load.OptionsFromConfig(o.Config.Config), load.WithLogger(util.ComponentLogger("load")))
	l := load.New(target, o.Config.Registry, opts...)

	count := 0
	err = l.Read(ctx, dec, func(rec *store.Record) error {
		count++
		if o.DryRun {
			log.Info().EmbedObject(util.LoggedRecord{Record: rec}).Msg("would write")
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Info().Int("records", count).Int("keymap", l.Keymap().Len()).Msg("load complete")
	return nil
}
