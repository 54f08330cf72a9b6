package load

import (
	"context"
	"fmt"

	"github.com/authzed/replicant/pkg/config"
	"github.com/authzed/replicant/pkg/schema"
	"github.com/authzed/replicant/pkg/store"
)

// MatchBy returns a load-spec that updates the local record whose fields
// equal the incoming ones, e.g. a user matched by login.
func MatchBy(keys ...string) LoadSpec {
	return func(ctx context.Context, l *Loader, tx store.Tx, typ *schema.Type, fields []store.Field) (*store.Record, error) {
		return FindBy(ctx, tx, typ, fields, keys)
	}
}

// ReplaceConflicting returns a load-spec that destroys the local record
// whose fields equal the incoming ones, so that the incoming record is
// created in its place.
func ReplaceConflicting(keys ...string) LoadSpec {
	return func(ctx context.Context, l *Loader, tx store.Tx, typ *schema.Type, fields []store.Field) (*store.Record, error) {
		existing, err := FindBy(ctx, tx, typ, fields, keys)
		if err != nil || existing == nil {
			return nil, err
		}
		if err := tx.Destroy(ctx, typ, existing.ID); err != nil {
			return nil, fmt.Errorf("replace conflicting %s: %w", existing.Identity(), err)
		}
		l.logger.Info().
			EmbedObject(existing.Identity()).
			Strs("on", keys).
			Msg("destroyed conflicting local record")
		return nil, nil
	}
}

// OptionsFromConfig installs the load-specs declared with match_by and
// replace_on. match_by wins if a type declares both.
func OptionsFromConfig(c *config.Config) []Option {
	if c == nil {
		return nil
	}
	opts := make([]Option, 0)
	for _, tc := range c.Types {
		switch {
		case len(tc.MatchBy) > 0:
			opts = append(opts, WithSpec(tc.Name, MatchBy(tc.MatchBy...)))
		case len(tc.ReplaceOn) > 0:
			opts = append(opts, WithSpec(tc.Name, ReplaceConflicting(tc.ReplaceOn...)))
		}
	}
	return opts
}
