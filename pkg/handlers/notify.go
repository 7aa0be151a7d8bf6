package handlers

import (
	"context"
	"fmt"

	"github.com/openfroyo/catalog/pkg/engine"
	"github.com/rs/zerolog"
)

// NotifyHandler logs a message on every run. It is never in sync.
type NotifyHandler struct {
	logger zerolog.Logger
}

// NewNotifyHandler creates a notify handler.
func NewNotifyHandler(logger zerolog.Logger) *NotifyHandler {
	return &NotifyHandler{logger: logger.With().Str("handler", "notify").Logger()}
}

// Type returns "notify".
func (h *NotifyHandler) Type() string { return "notify" }

// Check always reports out of sync.
func (h *NotifyHandler) Check(context.Context, *engine.Resource) (bool, error) {
	return false, nil
}

// Apply logs the message, which defaults to the title.
func (h *NotifyHandler) Apply(_ context.Context, res *engine.Resource) (string, error) {
	message := res.StringParam("message", res.Title)
	h.logger.Info().Str("resource", res.Ref().String()).Msg(message)
	return fmt.Sprintf("defined 'message' as '%s'", message), nil
}
