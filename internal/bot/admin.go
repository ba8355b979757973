package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"

	"gdz-ai-bot/internal/ledger"
	"gdz-ai-bot/internal/models"
)

const (
	stateUserInfoID       = "AWAITING_USER_INFO_ID"
	stateAdjustID         = "AWAITING_ADJUST_ID"
	stateAdjustAmount     = "AWAITING_ADJUST_AMOUNT"
	stateReferralBonus    = "AWAITING_REFERRAL_BONUS"
	stateBulkBonus        = "AWAITING_BULK_BONUS"
	stateBroadcastText    = "AWAITING_BROADCAST_TEXT"
	stateBroadcastBtnText = "AWAITING_BROADCAST_BUTTON_TEXT"
	stateBroadcastBtnURL  = "AWAITING_BROADCAST_BUTTON_URL"
)

var urlPattern = regexp.MustCompile(`^https?://\S+$`)

type broadcastDraft struct {
	ID         string
	Text       string
	ButtonText string
	ButtonURL  string
}

func (b *Bot) registerAdminHandlers(handler *th.BotHandler) {
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		if !b.isAdmin(update.Message.From.ID) {
			return nil
		}
		b.sendAdminPanel(ctx.Context(), update.Message.Chat.ID)
		return nil
	}, th.CommandEqual("admin"))

	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		if !b.isAdmin(update.Message.From.ID) {
			return nil
		}
		b.sendAdminPanel(ctx.Context(), update.Message.Chat.ID)
		return nil
	}, th.TextEqual(btnAdmin))

	handler.Handle(b.handleAdminCallback, th.CallbackDataPrefix("admin:"))

	handler.Handle(b.handleBroadcastSend, th.CallbackDataPrefix("bc_send_"))

	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		if b.isAdmin(callback.From.ID) {
			b.clearAdminState(callback.From.ID)
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(callback.From.ID), "Рассылка отменена."))
		}
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
		return nil
	}, th.CallbackDataEqual("bc_cancel"))

	// Broadcast button clicks: record once per user, hand out the link
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		broadcastID := strings.TrimPrefix(callback.Data, "bc_")
		if err := b.Store.AddBroadcastClick(broadcastID, callback.From.ID); err != nil {
			log.Printf("Failed to record broadcast click: %v", err)
		}
		if broadcast, err := b.Store.GetBroadcast(broadcastID); err == nil && broadcast.ButtonURL != "" {
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(callback.From.ID), broadcast.ButtonURL))
		}
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
		return nil
	}, th.CallbackDataPrefix("bc_"))
}

func (b *Bot) sendAdminPanel(ctx context.Context, chatID int64) {
	kb := tu.InlineKeyboard(
		tu.InlineKeyboardRow(tu.InlineKeyboardButton("✉️ Рассылка").WithCallbackData("admin:broadcast")),
		tu.InlineKeyboardRow(tu.InlineKeyboardButton("📊 Статистика").WithCallbackData("admin:stats")),
		tu.InlineKeyboardRow(tu.InlineKeyboardButton("👤 Инфо о юзере").WithCallbackData("admin:user_info")),
		tu.InlineKeyboardRow(tu.InlineKeyboardButton("➕ Выдать/списать запросы").WithCallbackData("admin:adjust")),
		tu.InlineKeyboardRow(tu.InlineKeyboardButton("📈 Настр. реф. бонус").WithCallbackData("admin:set_ref_bonus")),
		tu.InlineKeyboardRow(tu.InlineKeyboardButton("🎁 Настр. бонус за 5 реф.").WithCallbackData("admin:set_bulk_bonus")),
	)
	_, err := b.Instance.SendMessage(ctx, tu.Message(tu.ID(chatID), "👑 Админ-панель:").WithReplyMarkup(kb))
	if err != nil {
		log.Printf("Failed to send admin panel: %v", err)
	}
}

func (b *Bot) handleAdminCallback(ctx *th.Context, update telego.Update) error {
	callback := update.CallbackQuery
	adminID := callback.From.ID
	if !b.isAdmin(adminID) {
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID).WithText("Нет доступа.").WithShowAlert())
		return nil
	}
	_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))

	switch callback.Data {
	case "admin:stats":
		b.sendStats(ctx.Context(), adminID)
	case "admin:user_info":
		b.setAdminState(adminID, stateUserInfoID)
		b.promptAdmin(ctx.Context(), adminID, "User ID для инфо? /cancel для отмены.")
	case "admin:adjust":
		b.setAdminState(adminID, stateAdjustID)
		b.promptAdmin(ctx.Context(), adminID, "User ID для выдачи запросов? /cancel для отмены.")
	case "admin:set_ref_bonus":
		settings, err := b.Store.GetReferralSettings()
		if err != nil {
			log.Printf("Failed to load referral settings: %v", err)
			return nil
		}
		b.setAdminState(adminID, stateReferralBonus)
		b.promptAdmin(ctx.Context(), adminID, fmt.Sprintf(
			"Текущий бонус за реферала: %d запросов.\nВведите новое количество. /cancel для отмены.",
			settings.ReferralRequests))
	case "admin:set_bulk_bonus":
		settings, err := b.Store.GetReferralSettings()
		if err != nil {
			log.Printf("Failed to load referral settings: %v", err)
			return nil
		}
		b.setAdminState(adminID, stateBulkBonus)
		b.promptAdmin(ctx.Context(), adminID, fmt.Sprintf(
			"Текущий бонус за %d рефералов: %d запросов.\nВведите новое количество. /cancel для отмены.",
			ledger.ReferralTarget, settings.BulkReferralRequests))
	case "admin:broadcast":
		b.setAdminState(adminID, stateBroadcastText)
		b.promptAdmin(ctx.Context(), adminID, "Текст для рассылки. /cancel для отмены.")
	}
	return nil
}

// handleAdminInput consumes a message when the admin is mid-dialog. Returns
// false when there is no pending state, letting the message fall through to
// the task pipeline.
func (b *Bot) handleAdminInput(ctx *th.Context, message *telego.Message) bool {
	adminID := message.From.ID

	b.StatesMu.RLock()
	state, ok := b.UserStates[adminID]
	b.StatesMu.RUnlock()
	if !ok {
		return false
	}

	text := message.Text
	if text == "/cancel" {
		b.clearAdminState(adminID)
		b.promptAdmin(ctx.Context(), adminID, "Операция отменена.")
		return true
	}

	switch state {
	case stateUserInfoID:
		b.processUserInfo(ctx.Context(), adminID, text)
	case stateAdjustID:
		target, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			b.promptAdmin(ctx.Context(), adminID, "User ID - число.")
			return true
		}
		b.StatesMu.Lock()
		b.adjustTargets[adminID] = target
		b.UserStates[adminID] = stateAdjustAmount
		b.StatesMu.Unlock()
		b.promptAdmin(ctx.Context(), adminID, "Кол-во запросов (отрицательное для списания)?")
	case stateAdjustAmount:
		b.processAdjustAmount(ctx.Context(), adminID, text)
	case stateReferralBonus:
		b.processBonusUpdate(ctx.Context(), adminID, text, ledger.SettingReferralRequests)
	case stateBulkBonus:
		b.processBonusUpdate(ctx.Context(), adminID, text, ledger.SettingBulkReferralRequests)
	case stateBroadcastText:
		if text == "" {
			b.promptAdmin(ctx.Context(), adminID, "Пожалуйста, отправьте текст для рассылки.")
			return true
		}
		b.StatesMu.Lock()
		b.drafts[adminID] = &broadcastDraft{ID: uuid.New().String()[:8], Text: text}
		b.UserStates[adminID] = stateBroadcastBtnText
		b.StatesMu.Unlock()
		b.promptAdmin(ctx.Context(), adminID, "Введите название кнопки (или /skip).")
	case stateBroadcastBtnText:
		b.StatesMu.Lock()
		draft := b.drafts[adminID]
		if text == "/skip" {
			b.StatesMu.Unlock()
			b.sendBroadcastPreview(ctx.Context(), adminID, draft)
			return true
		}
		draft.ButtonText = text
		b.UserStates[adminID] = stateBroadcastBtnURL
		b.StatesMu.Unlock()
		b.promptAdmin(ctx.Context(), adminID, "Введите URL для кнопки (или /skip).")
	case stateBroadcastBtnURL:
		b.StatesMu.Lock()
		draft := b.drafts[adminID]
		if text != "/skip" {
			if !urlPattern.MatchString(text) {
				b.StatesMu.Unlock()
				b.promptAdmin(ctx.Context(), adminID, "Невалидный URL. Отправьте корректный URL или /skip.")
				return true
			}
			draft.ButtonURL = text
		} else {
			draft.ButtonText = ""
		}
		b.StatesMu.Unlock()
		b.sendBroadcastPreview(ctx.Context(), adminID, draft)
	default:
		return false
	}
	return true
}

func (b *Bot) processUserInfo(ctx context.Context, adminID int64, text string) {
	defer b.clearAdminState(adminID)
	target, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		b.promptAdmin(ctx, adminID, "User ID - число.")
		return
	}
	user, err := b.Store.GetUser(target)
	if errors.Is(err, ledger.ErrUserNotFound) {
		b.promptAdmin(ctx, adminID, fmt.Sprintf("Юзер %d не найден.", target))
		return
	}
	if err != nil {
		log.Printf("Failed to load user %d: %v", target, err)
		return
	}
	referredBy := "N/A"
	if user.ReferredBy != nil {
		referredBy = strconv.FormatInt(*user.ReferredBy, 10)
	}
	subscribed := "Нет"
	if user.SubscribedToChannel {
		subscribed = "Да"
	}
	b.promptAdmin(ctx, adminID, fmt.Sprintf(
		"Инфо о %d:\nUsername: @%s\nЗапросы: %d\nПодписка: %s\nРеф.код: %s\nПригласил: %d\nПришел от: %s",
		target, user.Username, user.RequestsLeft, subscribed, user.ReferralCode, user.InvitedFriendsCount, referredBy))
}

func (b *Bot) processAdjustAmount(ctx context.Context, adminID int64, text string) {
	amount, err := strconv.Atoi(text)
	if err != nil {
		b.promptAdmin(ctx, adminID, "Кол-во - число.")
		return
	}
	b.StatesMu.RLock()
	target := b.adjustTargets[adminID]
	b.StatesMu.RUnlock()
	defer b.clearAdminState(adminID)

	balance, err := b.Quota.AdminAdjust(ctx, target, amount)
	if errors.Is(err, ledger.ErrUserNotFound) {
		b.promptAdmin(ctx, adminID, fmt.Sprintf("Юзер %d не найден.", target))
		return
	}
	if err != nil {
		log.Printf("Failed to adjust balance of %d: %v", target, err)
		return
	}
	action := "добавлено"
	if amount < 0 {
		action = "списано"
	}
	b.promptAdmin(ctx, adminID, fmt.Sprintf("%d: %s %d запросов. Баланс: %d", target, action, abs(amount), balance))
}

func (b *Bot) processBonusUpdate(ctx context.Context, adminID int64, text, key string) {
	defer b.clearAdminState(adminID)
	amount, err := strconv.Atoi(text)
	if err != nil || amount <= 0 {
		b.promptAdmin(ctx, adminID, "Введите положительное число.")
		return
	}
	if err := b.Store.UpdateReferralSetting(key, amount); err != nil {
		log.Printf("Failed to update %s: %v", key, err)
		return
	}
	b.promptAdmin(ctx, adminID, fmt.Sprintf("Новое значение: %d запросов.", amount))
}

func (b *Bot) sendStats(ctx context.Context, adminID int64) {
	stats, err := b.Store.UserStats()
	if err != nil {
		log.Printf("Failed to collect stats: %v", err)
		return
	}
	settings, err := b.Store.GetReferralSettings()
	if err != nil {
		log.Printf("Failed to load referral settings: %v", err)
		return
	}
	broadcasts, err := b.Store.ListBroadcastStats()
	if err != nil {
		log.Printf("Failed to load broadcast stats: %v", err)
		return
	}

	var lines []string
	for _, bs := range broadcasts {
		text := bs.Broadcast.Text
		if len([]rune(text)) > 50 {
			text = string([]rune(text)[:50]) + "..."
		}
		lines = append(lines, fmt.Sprintf("Рассылка %s: %d кликов, текст: %s", bs.Broadcast.ID, bs.Clicks, text))
	}
	broadcastBlock := "Нет рассылок"
	if len(lines) > 0 {
		broadcastBlock = strings.Join(lines, "\n")
	}

	b.promptAdmin(ctx, adminID, fmt.Sprintf(
		"📊 Статистика:\nВсего пользователей: %d\nПодписаны: %d\nАктивны (запросы > 0): %d\n"+
			"Реф. бонус: %d запросов/реферал\nБонус за %d реф.: %d запросов\nРассылки:\n%s",
		stats.TotalUsers, stats.Subscribed, stats.Active,
		settings.ReferralRequests, ledger.ReferralTarget, settings.BulkReferralRequests, broadcastBlock))
}

func (b *Bot) sendBroadcastPreview(ctx context.Context, adminID int64, draft *broadcastDraft) {
	if draft == nil {
		b.clearAdminState(adminID)
		return
	}
	preview := tu.Message(tu.ID(adminID), draft.Text)
	if kb := broadcastKeyboard(draft); kb != nil {
		preview = preview.WithReplyMarkup(kb)
	}
	if _, err := b.Instance.SendMessage(ctx, preview); err != nil {
		log.Printf("Failed to send broadcast preview: %v", err)
		return
	}
	confirm := tu.InlineKeyboard(
		tu.InlineKeyboardRow(tu.InlineKeyboardButton("✅ Отправить").WithCallbackData("bc_send_"+draft.ID)),
		tu.InlineKeyboardRow(tu.InlineKeyboardButton("❌ Отменить").WithCallbackData("bc_cancel")),
	)
	_, _ = b.Instance.SendMessage(ctx, tu.Message(tu.ID(adminID), "Предпросмотр выше. Отправить?").WithReplyMarkup(confirm))
}

func (b *Bot) handleBroadcastSend(ctx *th.Context, update telego.Update) error {
	callback := update.CallbackQuery
	adminID := callback.From.ID
	if !b.isAdmin(adminID) {
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID).WithText("Нет доступа.").WithShowAlert())
		return nil
	}
	_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))

	b.StatesMu.RLock()
	draft := b.drafts[adminID]
	b.StatesMu.RUnlock()
	if draft == nil || "bc_send_"+draft.ID != callback.Data {
		b.promptAdmin(ctx.Context(), adminID, "Черновик рассылки не найден.")
		return nil
	}
	defer b.clearAdminState(adminID)

	if err := b.Store.AddBroadcast(&models.Broadcast{
		ID:         draft.ID,
		Text:       draft.Text,
		ButtonText: draft.ButtonText,
		ButtonURL:  draft.ButtonURL,
	}); err != nil {
		log.Printf("Failed to persist broadcast: %v", err)
		return nil
	}

	sent, blocked, failed := b.sendBroadcast(ctx.Context(), draft)
	b.promptAdmin(ctx.Context(), adminID, fmt.Sprintf("Рассылка: ✅ %d 🚫 %d ❌ %d", sent, blocked, failed))
	return nil
}

func (b *Bot) sendBroadcast(ctx context.Context, draft *broadcastDraft) (sent, blocked, failed int) {
	ids, err := b.Store.ListUserIDs()
	if err != nil {
		log.Printf("Failed to list users for broadcast: %v", err)
		return 0, 0, 0
	}
	kb := broadcastKeyboard(draft)
	for _, id := range ids {
		msg := tu.Message(tu.ID(id), draft.Text)
		if kb != nil {
			msg = msg.WithReplyMarkup(kb)
		}
		if _, err := b.Instance.SendMessage(ctx, msg); err != nil {
			errText := strings.ToLower(err.Error())
			if strings.Contains(errText, "blocked") || strings.Contains(errText, "deactivated") || strings.Contains(errText, "chat not found") {
				blocked++
			} else {
				failed++
				log.Printf("Broadcast error to %d: %v", id, err)
			}
		} else {
			sent++
		}
		time.Sleep(50 * time.Millisecond)
	}
	return sent, blocked, failed
}

// broadcastKeyboard builds the optional tracked button. A callback button is
// used instead of a plain URL button so the click can be counted; the link is
// handed out in the callback handler.
func broadcastKeyboard(draft *broadcastDraft) *telego.InlineKeyboardMarkup {
	if draft.ButtonText == "" || draft.ButtonURL == "" {
		return nil
	}
	return tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton(draft.ButtonText).WithCallbackData("bc_" + draft.ID),
		),
	)
}

func (b *Bot) promptAdmin(ctx context.Context, adminID int64, text string) {
	if _, err := b.Instance.SendMessage(ctx, tu.Message(tu.ID(adminID), text)); err != nil {
		log.Printf("Failed to message admin %d: %v", adminID, err)
	}
}

func (b *Bot) setAdminState(adminID int64, state string) {
	b.StatesMu.Lock()
	b.UserStates[adminID] = state
	b.StatesMu.Unlock()
}

func (b *Bot) clearAdminState(adminID int64) {
	b.StatesMu.Lock()
	delete(b.UserStates, adminID)
	delete(b.adjustTargets, adminID)
	delete(b.drafts, adminID)
	b.StatesMu.Unlock()
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
