package emergency

import (
	"context"
	"log/slog"
)

// LogNotifier records override notifications in the application log.
// Delivery to push or SMS channels happens out of process from the
// notifications stream.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the notification.
func (n *LogNotifier) Notify(ctx context.Context, note Notification) error {
	if n.logger != nil {
		event := "activated"
		if note.Deactivated {
			event = "deactivated"
		}
		n.logger.Info("override notification",
			slog.String("recipient", note.Recipient),
			slog.String("triggeredBy", note.TriggeredBy),
			slog.String("affectedUser", note.AffectedUser),
			slog.String("reason", string(note.Reason)),
			slog.String("event", event))
	}
	return nil
}

var _ Notifier = (*LogNotifier)(nil)
