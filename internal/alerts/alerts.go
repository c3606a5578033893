// Package alerts adapts the Telegram notifier the teacher used for whale
// signals (notification_service.go) into the transport for the three event
// classes spec.md §7 calls out as alert-worthy: InvariantViolated,
// GapDetected after exhausted repair attempts, and persistent StorageError.
//
// Grounded on notification_service.go's NotificationService (env-var
// token/chat-id bootstrap, persisted chat id file, fire-and-forget Notify)
// using the same github.com/go-telegram-bot-api/telegram-bot-api/v5 client;
// the interactive approve/discard keyboard has no home here (entries are
// system-generated, not trade signals awaiting human approval) and is
// dropped.
package alerts

import (
	"fmt"
	"log"
	"os"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/c0herence/papertrade/internal/apierrors"
)

// Notifier sends a free-form alert message. Telegram and Push (push.go) are
// the transports; a nil *Telegram is a valid, inert Notifier (alerts are
// logged only).
type Notifier interface {
	Notify(msg string)
}

// Telegram is a Notifier backed by a Telegram bot, bootstrapped from
// TELEGRAM_BOT_TOKEN/TELEGRAM_CHAT_ID the same way notification_service.go
// did.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram returns nil if TELEGRAM_BOT_TOKEN is unset, matching the
// teacher's "notifications disabled, not fatal" behavior.
func NewTelegram() *Telegram {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		log.Println("alerts: TELEGRAM_BOT_TOKEN not set, alerts disabled")
		return nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		log.Printf("alerts: failed to init telegram bot: %v", err)
		return nil
	}
	var chatID int64
	if raw := os.Getenv("TELEGRAM_CHAT_ID"); raw != "" {
		chatID, _ = strconv.ParseInt(raw, 10, 64)
	}
	return &Telegram{bot: bot, chatID: chatID}
}

func (t *Telegram) Notify(msg string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	go func() {
		cfg := tgbotapi.NewMessage(t.chatID, msg)
		cfg.ParseMode = "Markdown"
		if _, err := t.bot.Send(cfg); err != nil {
			log.Printf("alerts: telegram send failed: %v", err)
		}
	}()
}

// Router dispatches the taxonomy errors worth alerting a human about to
// every configured transport.
type Router struct {
	notifiers []Notifier
}

func NewRouter(notifiers ...Notifier) *Router { return &Router{notifiers: notifiers} }

func (r *Router) notify(msg string) {
	for _, n := range r.notifiers {
		if n != nil {
			n.Notify(msg)
		}
	}
}

// OnInvariantViolated alerts immediately. The caller does not quarantine the
// affected strategy; this alert is the only signal a human gets.
func (r *Router) OnInvariantViolated(err *apierrors.InvariantViolated) {
	r.notify(fmt.Sprintf("🚨 *INVARIANT VIOLATED* (%s)\n%s", err.Strategy, err.Detail))
}

// OnGapRepairExhausted alerts only once repair has failed its final
// attempt (spec.md §7: gap repair failure is not itself alert-worthy,
// repeated failure is).
func (r *Router) OnGapRepairExhausted(err *apierrors.GapDetected) {
	r.notify(fmt.Sprintf("⚠️ *GAP REPAIR EXHAUSTED* (%s)\nMissing (%d, %d], attempt=%d. Serving stale state.",
		err.Interval, err.FromOpenTimeMs, err.ToOpenTimeMs, err.Attempt))
}

// OnStoragePersistentFailure alerts on a failed DAO write; the pipeline calls
// it once for every write that returns a StorageError.
func (r *Router) OnStoragePersistentFailure(err *apierrors.StorageError) {
	r.notify(fmt.Sprintf("🚨 *STORAGE DEGRADED*\nOp: %s\nErr: %v\nRunning in-memory-only; writes since are not durable.", err.Op, err.Err))
}
