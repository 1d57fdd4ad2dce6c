package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"
	"github.com/jansgame/roundwatch/internal/config"
	"github.com/jansgame/roundwatch/internal/round"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var observedAt = time.Date(2024, 5, 4, 12, 0, 0, 0, time.UTC)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func state(roundID uint64, contract, display round.Phase) *round.State {
	return &round.State{
		Round:         round.Snapshot{RoundID: roundID},
		ContractPhase: contract,
		Phase:         display,
	}
}

func TestDetect(t *testing.T) {
	score := 8
	evaluated := state(4, round.PhaseEvaluated, round.PhaseEvaluated)
	evaluated.Round.HighestScore = &score
	evaluated.Round.ActualOutcomes = []bool{true, false}

	tests := []struct {
		name     string
		prev     *round.State
		cur      *round.State
		wantKind Kind
		wantSev  Severity
		wantFrom round.Phase
		wantTo   round.Phase
	}{
		{"new round", state(4, round.PhaseEvaluated, round.PhaseEvaluated), state(5, round.PhasePendingStart, round.PhasePendingStart),
			KindRoundStarted, SeverityInfo, round.PhaseEvaluated, round.PhasePendingStart},
		{"sales open", state(5, round.PhasePendingStart, round.PhasePendingStart), state(5, round.PhaseSalesOpen, round.PhaseSalesOpen),
			KindPhaseChanged, SeverityInfo, round.PhasePendingStart, round.PhaseSalesOpen},
		{"evaluated", state(4, round.PhaseSalesClosed, round.PhaseSalesClosed), evaluated,
			KindRoundEvaluated, SeverityInfo, round.PhaseSalesClosed, round.PhaseEvaluated},
		{"aborted", state(4, round.PhaseSalesClosed, round.PhaseSalesClosed), state(4, round.PhaseAborted, round.PhaseAborted),
			KindRoundAborted, SeverityAlert, round.PhaseSalesClosed, round.PhaseAborted},
		{"maintenance starts", state(4, round.PhaseSalesOpen, round.PhaseSalesOpen), state(4, round.PhaseSalesOpen, round.PhasePaused),
			KindPhaseChanged, SeverityWarn, round.PhaseSalesOpen, round.PhasePaused},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Detect(tt.prev, tt.cur, 3, "test", observedAt)
			require.Len(t, got, 1)
			n := got[0]
			assert.Equal(t, tt.wantKind, n.Kind)
			assert.Equal(t, tt.wantSev, n.Severity)
			assert.Equal(t, tt.wantFrom, n.FromPhase)
			assert.Equal(t, tt.wantTo, n.ToPhase)
			assert.Equal(t, tt.cur.Round.RoundID, n.RoundID)
			assert.NotEmpty(t, n.ID)
			assert.Equal(t, observedAt, n.Timestamp)
		})
	}
}

func TestDetectNothing(t *testing.T) {
	open := state(4, round.PhaseSalesOpen, round.PhaseSalesOpen)
	errState := &round.State{Phase: round.PhaseError, ContractPhase: round.PhaseError}

	assert.Empty(t, Detect(nil, open, 0, "test", observedAt), "first observation")
	assert.Empty(t, Detect(open, open, 0, "test", observedAt), "unchanged")
	assert.Empty(t, Detect(open, errState, 0, "test", observedAt), "read failure")
	assert.Empty(t, Detect(errState, open, 0, "test", observedAt), "recovery from read failure")
	assert.Empty(t, Detect(open, state(0, round.PhaseNoRound, round.PhaseNoRound), 0, "test", observedAt), "round id reset to zero")
}

func sampleNotification() *Notification {
	score := 9
	return &Notification{
		ID:             "n-1",
		Kind:           KindRoundEvaluated,
		Severity:       SeverityInfo,
		RoundID:        12,
		FromPhase:      round.PhaseSalesClosed,
		ToPhase:        round.PhaseEvaluated,
		HighestScore:   &score,
		ActualOutcomes: []bool{true, false, true},
		TicketCount:    40,
		Timestamp:      observedAt,
		Environment:    "test",
	}
}

func TestNotificationText(t *testing.T) {
	n := sampleNotification()
	assert.Equal(t, "Round 12 evaluated", n.Title())
	assert.Equal(t, []string{
		"Round: 12",
		"Phase: sales_closed -> evaluated",
		"Highest score: 9/10",
		"Outcomes: ↑↓↑",
		"Tickets: 40",
	}, n.Details())

	n.Kind = KindPhaseChanged
	assert.Equal(t, "Round 12: sales_closed -> evaluated", n.Title())
}

func TestDiscordSender(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), sampleNotification()))

	embeds := got["embeds"].([]interface{})
	require.Len(t, embeds, 1)
	embed := embeds[0].(map[string]interface{})
	assert.Equal(t, "Round 12 evaluated", embed["title"])
	assert.Equal(t, float64(0x0099FF), embed["color"])
	assert.Len(t, embed["fields"], 5)
}

func TestDiscordSenderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), sampleNotification())
	assert.ErrorContains(t, err, "unexpected status 429")
}

type fakeTelegram struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeTelegram) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func TestTelegramSender(t *testing.T) {
	bot := &fakeTelegram{}
	s := &TelegramSender{bot: bot, chatID: -100}

	n := sampleNotification()
	n.Severity = SeverityAlert
	require.NoError(t, s.Send(context.Background(), n))
	require.Len(t, bot.sent, 1)
	assert.Equal(t, int64(-100), bot.sent[0].ChatID)
	assert.Equal(t, tgbotapi.ModeMarkdown, bot.sent[0].ParseMode)
	assert.Contains(t, bot.sent[0].Text, "🚨 *Round 12 evaluated*")
	assert.Contains(t, bot.sent[0].Text, "Highest score: 9/10")

	bot.err = errors.New("chat not found")
	assert.ErrorContains(t, s.Send(context.Background(), n), "chat not found")
}

func TestSMTPBody(t *testing.T) {
	body := NewSMTPSender("smtp.local", 25, "", "", "a@b", []string{"c@d"}).buildEmailBody(sampleNotification())
	assert.Contains(t, body, "ROUNDWATCH - INFO")
	assert.Contains(t, body, "Round 12 evaluated")
	assert.Contains(t, body, "Outcomes: ↑↓↑")
	assert.Contains(t, body, "Environment: test")
	assert.Contains(t, body, "Notification: n-1")
}

type recordingSender struct {
	calls int
	err   error
}

func (r *recordingSender) Send(ctx context.Context, n *Notification) error {
	r.calls++
	return r.err
}

func TestMultiSender(t *testing.T) {
	ok := &recordingSender{}
	failing := &recordingSender{err: errors.New("boom")}
	last := &recordingSender{}

	err := NewMultiSender(ok, failing, last).Send(context.Background(), sampleNotification())
	require.Error(t, err)
	assert.ErrorIs(t, err, failing.err)
	assert.Contains(t, err.Error(), "sender 1")
	assert.Equal(t, 1, ok.calls)
	assert.Equal(t, 1, last.calls, "later senders still run")

	assert.NoError(t, NewMultiSender(ok).Send(context.Background(), sampleNotification()))
}

func TestFromConfig(t *testing.T) {
	log := quietLogger()

	assert.IsType(t, &LogSender{}, FromConfig(&config.Config{AlertMode: "log"}, log))
	assert.IsType(t, &DiscordSender{}, FromConfig(&config.Config{AlertMode: "discord", DiscordWebURL: "http://x"}, log))
	assert.IsType(t, &MultiSender{}, FromConfig(&config.Config{
		AlertMode:     "log, discord,smtp",
		DiscordWebURL: "http://x",
		SMTPHost:      "smtp.local",
		SMTPTo:        []string{"ops@example.com"},
	}, log))
	assert.IsType(t, &LogSender{}, FromConfig(&config.Config{AlertMode: "discord"}, log), "falls back to log")
}
