package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/openfroyo/catalog/pkg/engine"
	"gopkg.in/yaml.v3"
)

// render writes v to w in the --render-as format. Only catalogs render as dot.
func render(w io.Writer, v interface{}) error {
	switch renderAs {
	case "", "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to render yaml: %w", err)
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "dot":
		catalog, ok := v.(*engine.Catalog)
		if !ok {
			return fmt.Errorf("only catalogs can be rendered as dot")
		}
		graph, err := engine.BuildResourceGraph(catalog)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, graph.ToDOT(catalog.Name))
		return err
	default:
		return fmt.Errorf("unknown render format %q (want yaml, json or dot)", renderAs)
	}
}
