package dump

import (
	"context"

	"github.com/authzed/replicant/pkg/config"
	"github.com/authzed/replicant/pkg/store"
)

// Including returns a dump-spec that dumps the record generically and then
// the named associations.
func Including(names ...string) DumpSpec {
	return func(ctx context.Context, d *Dumper, rec *store.Record) error {
		if err := d.DumpGeneric(ctx, rec); err != nil {
			return err
		}
		for _, name := range names {
			if err := d.DumpAssociation(ctx, rec, name); err != nil {
				return err
			}
		}
		return nil
	}
}

// OptionsFromConfig installs the dump-specs declared with dump_with.
func OptionsFromConfig(c *config.Config) []Option {
	if c == nil {
		return nil
	}
	opts := make([]Option, 0)
	for _, tc := range c.Types {
		if len(tc.DumpWith) == 0 {
			continue
		}
		opts = append(opts, WithSpec(tc.Name, Including(tc.DumpWith...)))
	}
	return opts
}
