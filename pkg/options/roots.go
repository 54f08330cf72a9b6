package options

import (
	"context"
	"fmt"
	"strings"

	"github.com/authzed/replicant/pkg/schema"
	"github.com/authzed/replicant/pkg/store"
)

// RootOptions selects the records a dump starts from
type RootOptions struct {
	Type  string
	IDs   []string
	Where []string
}

// Complete validates the selection
func (o *RootOptions) Complete() error {
	if o.Type == "" {
		return fmt.Errorf("must provide a root type")
	}
	if len(o.IDs) == 0 && len(o.Where) == 0 {
		return fmt.Errorf("must select roots with --id or --where")
	}
	if len(o.IDs) > 0 && len(o.Where) > 0 {
		return fmt.Errorf("--id and --where are mutually exclusive")
	}
	for _, w := range o.Where {
		if !strings.Contains(w, "=") {
			return fmt.Errorf("--where expects field=value, got %q", w)
		}
	}
	return nil
}

// Find reads the root records from source
func (o *RootOptions) Find(ctx context.Context, source store.Source, registry *schema.Registry) ([]*store.Record, error) {
	typ, err := registry.Type(o.Type)
	if err != nil {
		return nil, err
	}
	if len(o.Where) > 0 {
		conds := make([]store.Field, 0, len(o.Where))
		for _, w := range o.Where {
			parts := strings.SplitN(w, "=", 2)
			conds = append(conds, store.Field{Name: parts[0], Value: parts[1]})
		}
		return source.Where(ctx, typ, conds)
	}
	roots := make([]*store.Record, 0, len(o.IDs))
	for _, id := range o.IDs {
		rec, err := source.Find(ctx, typ, id)
		if err != nil {
			return nil, err
		}
		roots = append(roots, rec)
	}
	return roots, nil
}
