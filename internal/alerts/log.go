package alerts

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogSender sends alerts to the logger
type LogSender struct {
	log *logrus.Logger
}

// NewLogSender creates a new log sender
func NewLogSender(log *logrus.Logger) *LogSender {
	return &LogSender{log: log}
}

// Send logs the notification
func (s *LogSender) Send(ctx context.Context, n *Notification) error {
	fields := logrus.Fields{
		"notification_id": n.ID,
		"kind":            n.Kind,
		"severity":        n.Severity,
		"round_id":        n.RoundID,
		"from_phase":      n.FromPhase,
		"to_phase":        n.ToPhase,
	}
	if n.HighestScore != nil {
		fields["highest_score"] = *n.HighestScore
	}
	s.log.WithFields(fields).Info(n.Title())
	return nil
}
