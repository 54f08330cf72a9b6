package main

import (
	"github.com/jzelinskie/cobrautil"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/authzed/replicant/pkg/cmd/config"
	"github.com/authzed/replicant/pkg/cmd/copier"
	"github.com/authzed/replicant/pkg/cmd/dump"
	"github.com/authzed/replicant/pkg/cmd/load"
	"github.com/authzed/replicant/pkg/signals"
	"github.com/authzed/replicant/pkg/streams"
)

func main() {
	s := streams.NewStdIO()
	ctx := signals.Context()
	rootCmd := NewRootCmd()

	rootCmd.AddCommand(dump.NewDumpCmd(ctx, s))
	rootCmd.AddCommand(load.NewLoadCmd(ctx, s))
	rootCmd.AddCommand(copier.NewCopyCmd(ctx, s))
	rootCmd.AddCommand(config.NewConfigCmd(ctx, s))
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatal().Err(err).Send()
	}
}

// NewRootCmd returns the root command without subcommands
func NewRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "replicant",
		Short:             "Copy a slice of a relational dataset between databases, preserving references",
		PersistentPreRunE: cobrautil.SyncViperPreRunE("replicant"),
		SilenceUsage:      true,
	}
}
