package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openfroyo/catalog/pkg/engine"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newSaveCommand() *cobra.Command {
	var node string

	cmd := &cobra.Command{
		Use:   "save <file>",
		Short: "Store a catalog file through the active terminus",
		Long: `Read a catalog from a YAML or JSON file and store it through the active terminus.

The catalog is stored under --node, defaulting to the local certname.
Catalogs whose resources cannot be ordered are rejected.`,
		Example: `  # Seed the cache with a hand-written catalog
  froyo-catalog save catalog.yaml --terminus cache

  # Upload a catalog for another node
  froyo-catalog save web01.json --node web01 --terminus network`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			catalog, err := readCatalog(args[0])
			if err != nil {
				return err
			}

			a, err := newApp(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close(ctx)
			ctx = a.telemetry.WithContext(ctx)

			if err := a.workflow.Save(ctx, node, catalog); err != nil {
				return err
			}

			a.logger.Info().
				Str("file", args[0]).
				Str("terminus", a.workflow.State().Active).
				Int("resources", len(catalog.Resources)).
				Msg("Catalog saved")
			return nil
		},
	}

	cmd.Flags().StringVar(&node, "node", "", "node to store the catalog for (default: local certname)")

	return cmd
}

// readCatalog decodes path as JSON when it has a .json extension, YAML otherwise.
func readCatalog(path string) (*engine.Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("failed to read catalog file %s", path), err)
	}

	catalog := &engine.Catalog{}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(catalog)
	} else {
		err = yaml.Unmarshal(data, catalog)
	}
	if err != nil {
		return nil, engine.NewConfigurationError(fmt.Sprintf("failed to parse catalog file %s", path), err).
			WithCode(engine.ErrCodeValidation)
	}
	return catalog, nil
}
