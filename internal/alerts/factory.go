package alerts

import (
	"github.com/jansgame/roundwatch/internal/config"
	"github.com/sirupsen/logrus"
)

// FromConfig builds the sender for ALERT_MODE. A single mode returns that
// sender directly; several are wrapped in a MultiSender. Modes that cannot
// be built are skipped with a warning, falling back to the log sender.
func FromConfig(cfg *config.Config, log *logrus.Logger) Sender {
	var senders []Sender
	for _, mode := range cfg.AlertModes() {
		switch mode {
		case "log":
			senders = append(senders, NewLogSender(log))
		case "discord":
			if cfg.DiscordWebURL == "" {
				log.Warn("Discord mode specified but DISCORD_WEBHOOK_URL not set")
				continue
			}
			senders = append(senders, NewDiscordSender(cfg.DiscordWebURL))
		case "telegram":
			tg, err := NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID)
			if err != nil {
				log.WithError(err).Warn("Telegram sender unavailable, skipping")
				continue
			}
			senders = append(senders, tg)
		case "smtp":
			if cfg.SMTPHost == "" {
				log.Warn("SMTP mode specified but SMTP_HOST not set")
				continue
			}
			senders = append(senders, NewSMTPSender(
				cfg.SMTPHost,
				cfg.SMTPPort,
				cfg.SMTPUser,
				cfg.SMTPPassword,
				cfg.SMTPFrom,
				cfg.SMTPTo,
			))
		default:
			log.WithField("mode", mode).Warn("Unknown alert mode, skipping")
		}
	}

	switch len(senders) {
	case 0:
		log.Warn("No valid alert senders configured, using log")
		return NewLogSender(log)
	case 1:
		return senders[0]
	default:
		return NewMultiSender(senders...)
	}
}
