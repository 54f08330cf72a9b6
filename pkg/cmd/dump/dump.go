package dump

import (
	"context"

	"github.com/jzelinskie/cobrautil"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/authzed/replicant/pkg/codec"
	"github.com/authzed/replicant/pkg/dump"
	"github.com/authzed/replicant/pkg/options"
	"github.com/authzed/replicant/pkg/streams"
	"github.com/authzed/replicant/pkg/util"
	"github.com/authzed/replicant/pkg/write"
)

// NewDumpCmd configures a new cobra command that dumps a record graph as a
// tuple stream.
func NewDumpCmd(ctx context.Context, streams streams.IO) *cobra.Command {
	o := NewOptions(streams)
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "dump records and everything they depend on as a tuple stream",
		// logs to stderr so that stdout only contains the stream
		PreRunE: util.ZeroLogPreRunEFunc(o.IO.ErrOut),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(ctx); err != nil {
				return err
			}
			return o.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&o.Source.URI, "source", "", "uri of the source database (postgres:// or sqlite://)")
	cmd.Flags().StringVar(&o.Source.Namespace, "namespace", "", "postgres schema to reflect (default public)")
	cmd.Flags().StringSliceVar(&o.Source.Tables, "tables", nil, "only reflect these tables")
	cmd.Flags().StringVar(&o.Config.ConfigFile, "config", "", "path to a replication config applied on top of the reflected schema")
	cmd.Flags().StringVar(&o.Roots.Type, "type", "", "type of the root records")
	cmd.Flags().StringSliceVar(&o.Roots.IDs, "id", nil, "primary key of a root record (repeatable)")
	cmd.Flags().StringSliceVar(&o.Roots.Where, "where", nil, "field=value condition selecting root records (repeatable)")
	cmd.Flags().StringVarP(&o.OutputFile, "output", "o", "-", "file to write the stream to")
	cmd.Flags().BoolVar(&o.Header, "header", true, "start the stream with a header line")
	cmd.Flags().BoolVar(&o.DryRun, "dry-run", false, "log tuples instead of writing the stream")
	cobrautil.RegisterZeroLogFlags(cmd.Flags(), "log")

	return cmd
}

// Options holds options for the dump command
type Options struct {
	streams.IO

	Source     options.StoreOptions
	Config     options.ConfigOptions
	Roots      options.RootOptions
	OutputFile string
	Header     bool
	DryRun     bool
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
	if err := o.Roots.Complete(); err != nil {
		return err
	}
	if err := o.Source.Complete(); err != nil {
		return err
	}
	return o.Config.Complete(ctx, &o.Source)
}

// Run runs the command configured by Options.
func (o *Options) Run(ctx context.Context) error {
	source, err := o.Source.Open(ctx, o.Config.Registry)
	if err != nil {
		return err
	}
	defer source.Close()

	roots, err := o.Roots.Find(ctx, source, o.Config.Registry)
	if err != nil {
		return err
	}
	log.Info().Str("type", o.Roots.Type).Int("roots", len(roots)).Msg("dumping")

	var sink write.TupleWriter
	closeOutput := func() error { return nil }
	if o.DryRun {
		sink = write.NewDryRunTupleWriter()
	} else {
		out, err := o.IO.Output(o.OutputFile)
		if err != nil {
			return err
		}
		closeOutput = out.Close

		enc := codec.NewEncoder(out)
		if o.Header {
			h, err := codec.NewHeader(source.Dialect().Driver)
			if err != nil {
				return err
			}
			if o.Source.IsPostgres() {
				h.Position = o.Config.XLogPos.String()
			}
			if err := enc.WriteHeader(h); err != nil {
				return err
			}
			log.Info().EmbedObject(util.LoggedHeader{Header: h}).Msg("started session")
		}
		sink = write.NewTupleWriter(enc)
	}

	counter := write.NewCountingTupleWriter(sink)
	opts := append(dump.OptionsFromConfig(o.Config.Config), dump.WithLogger(util.ComponentLogger("dump")))
	d := dump.New(source, o.Config.Registry, counter, opts...)
	if err := d.Dump(ctx, roots); err != nil {
		closeOutput()
		return err
	}
	if err := closeOutput(); err != nil {
		return err
	}
	log.Info().EmbedObject(counter).Msg("dump complete")
	return nil
}
