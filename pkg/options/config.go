package options

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jackc/pglogrepl"
	"github.com/rs/zerolog/log"
	"sigs.k8s.io/yaml"

	"github.com/authzed/replicant/pkg/config"
	"github.com/authzed/replicant/pkg/schema"
)

type ConfigPrinter func(c *config.Config) error

func DiscardConfigPrinter(*config.Config) error {
	return nil
}

var _ ConfigPrinter = DiscardConfigPrinter

func JSONConfigPrinter(w io.Writer) ConfigPrinter {
	return func(c *config.Config) error {
		configJSON, err := json.MarshalIndent(c, "", "  ")
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, string(configJSON)); err != nil {
			return err
		}
		return nil
	}
}

func YAMLConfigPrinter(w io.Writer) ConfigPrinter {
	return func(c *config.Config) error {
		configYaml, err := yaml.Marshal(c)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprint(w, string(configYaml)); err != nil {
			return err
		}
		return nil
	}
}

// NewConfigPrinter returns the printer for an output format
func NewConfigPrinter(format string, w io.Writer) (ConfigPrinter, error) {
	switch format {
	case "yaml", "":
		return YAMLConfigPrinter(w), nil
	case "json":
		return JSONConfigPrinter(w), nil
	case "none":
		return DiscardConfigPrinter, nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

// LoadConfig reads a replication config from a YAML or JSON file
func LoadConfig(path string) (*config.Config, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c config.Config
	if err := yaml.Unmarshal(contents, &c); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &c, nil
}

// ConfigOptions resolves the type registry of a store: declarations inferred
// from its tables, with the config file applied on top.
type ConfigOptions struct {
	ConfigFile string

	// Reflect controls whether the store's tables are reflected. Without
	// reflection every type must come from the config file.
	Reflect bool

	Config   *config.Config
	Registry *schema.Registry
	XLogPos  pglogrepl.LSN
}

// Complete builds the registry
func (o *ConfigOptions) Complete(ctx context.Context, store *StoreOptions) error {
	if o.Registry != nil {
		log.Debug().Msg("registry already set, skipping config option validation")
		return nil
	}
	if o.Config == nil && len(o.ConfigFile) > 0 {
		log.Info().Str("config", o.ConfigFile).Msg("loading replication config from file")
		c, err := LoadConfig(o.ConfigFile)
		if err != nil {
			return err
		}
		o.Config = c
	}

	b := schema.NewBuilder()
	if o.Reflect {
		tables, pos, err := store.Reflect(ctx)
		if err != nil {
			return err
		}
		b.DeclareTables(tables)
		o.XLogPos = pos
	} else if o.Config == nil {
		return fmt.Errorf("a config file is required when the schema is not reflected")
	}
	if err := b.Apply(o.Config); err != nil {
		return err
	}
	registry, err := b.Build()
	if err != nil {
		return err
	}
	o.Registry = registry
	return nil
}
