// Package notify sends outbound Telegram alerts for fills, closes,
// killswitch trips and sweep summaries. Entirely optional: a nil *Telegram
// is safe to call, so unconfigured deployments pay nothing.
package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Telegram is an outbound-only alert channel.
type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// New creates the notifier, or nil when token/chat are unset.
func New(token string, chatID int64) *Telegram {
	if token == "" || chatID == 0 {
		return nil
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		log.Warn().Err(err).Msg("Telegram init failed, alerts disabled")
		return nil
	}

	log.Info().Str("bot", api.Self.UserName).Msg("📱 Telegram alerts enabled")
	return &Telegram{api: api, chatID: chatID}
}

// TradeOpened announces a new position.
func (t *Telegram) TradeOpened(windowID, outcome string, price, size, cost decimal.Decimal, dryRun bool) {
	mode := ""
	if dryRun {
		mode = " 🧪 (dry run)"
	}
	t.send(fmt.Sprintf("🎯 *Bought %s*%s\n\n💵 %s @ $%s = $%s\n📋 %s",
		outcome, mode, size.String(), price.StringFixed(2), cost.StringFixed(2), windowID))
}

// TradeClosed announces a settled position.
func (t *Telegram) TradeClosed(windowID string, pnl decimal.Decimal) {
	emoji := "✅"
	if pnl.IsNegative() {
		emoji = "❌"
	}
	t.send(fmt.Sprintf("%s *Closed* %s\n\n💰 P/L: $%s", emoji, windowID, pnl.StringFixed(2)))
}

// KillswitchTripped announces a trading halt.
func (t *Telegram) KillswitchTripped(reason string) {
	t.send("🚨 *KILLSWITCH ACTIVE*\n\n" + reason + "\n\nAll new trades halted until manual reset.")
}

// SweepComplete announces sweep totals.
func (t *Telegram) SweepComplete(scanned, resolutions, redeemed int) {
	if redeemed == 0 && resolutions == 0 {
		return
	}
	t.send(fmt.Sprintf("🧹 *Sweep complete*\n\n🔍 Scanned: %d\n🏁 Resolutions: %d\n💸 Redeemed: %d",
		scanned, resolutions, redeemed))
}

func (t *Telegram) send(text string) {
	if t == nil {
		return
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := t.api.Send(msg); err != nil {
		log.Warn().Err(err).Msg("Telegram send failed")
	}
}
