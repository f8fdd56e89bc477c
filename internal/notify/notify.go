package notify

import (
	"context"
	"log"
	"os"
)

// Notifier delivers human-facing alerts about experiment outcomes. Delivery
// is best effort: the sweep logs failures and moves on, it never retries a
// notification.
type Notifier interface {
	Notify(ctx context.Context, subject, body string, recipients []string) error
}

// LogNotifier writes notifications to a logger. It is the default when no
// broker is configured, and doubles as the test double.
type LogNotifier struct {
	logger *log.Logger
}

func NewLogNotifier(logger *log.Logger) *LogNotifier {
	if logger == nil {
		logger = log.New(os.Stdout, "[notify] ", log.LstdFlags)
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, subject, body string, recipients []string) error {
	n.logger.Printf("subject=%q recipients=%v body=%s", subject, recipients, body)
	return nil
}
