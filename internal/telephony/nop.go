package telephony

import (
	"context"
	"log/slog"
)

// NopController logs commands instead of sending them. Used when no
// provider is configured, so the decision engine keeps working end to end
// in development.
type NopController struct {
	logger *slog.Logger
}

var _ Controller = (*NopController)(nil)

// NewNopController creates a logging-only controller.
func NewNopController(logger *slog.Logger) *NopController {
	return &NopController{logger: logger.With("subsystem", "telephony_nop")}
}

func (n *NopController) Play(_ context.Context, callID, text string) error {
	n.logger.Info("play", "call_id", callID, "text", text)
	return nil
}

func (n *NopController) Transfer(_ context.Context, callID, extension string) error {
	n.logger.Info("transfer", "call_id", callID, "extension", extension)
	return nil
}

func (n *NopController) Voicemail(_ context.Context, callID, box string) error {
	n.logger.Info("voicemail", "call_id", callID, "box", box)
	return nil
}

func (n *NopController) Hangup(_ context.Context, callID string) error {
	n.logger.Info("hangup", "call_id", callID)
	return nil
}
