// Package handlers implements the resource types a catalog can declare:
// file, exec and notify.
package handlers

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/openfroyo/catalog/pkg/engine"
	"github.com/rs/zerolog"
)

var validate = validator.New()

// Default returns one handler per built-in resource type.
func Default(logger zerolog.Logger) []engine.ResourceHandler {
	return []engine.ResourceHandler{
		NewFileHandler(logger),
		NewExecHandler(logger),
		NewNotifyHandler(logger),
	}
}

// NewRegistry returns a handler registry with the built-in types registered.
func NewRegistry(logger zerolog.Logger) *engine.HandlerRegistry {
	return engine.NewHandlerRegistry(Default(logger)...)
}

// decodeParams copies the resource parameters into out and validates it.
func decodeParams(res *engine.Resource, out interface{}) error {
	data, err := json.Marshal(res.Parameters)
	if err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	return nil
}
