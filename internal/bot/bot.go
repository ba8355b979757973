package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/redis/go-redis/v9"

	"gdz-ai-bot/internal/ai"
	"gdz-ai-bot/internal/config"
	"gdz-ai-bot/internal/extract"
	"gdz-ai-bot/internal/ledger"
)

type Bot struct {
	Instance  *telego.Bot
	Store     *ledger.Store
	Referrals *ledger.Engine
	Quota     *ledger.Gate
	AI        *ai.Client
	Extractor *extract.Client
	Redis     *redis.Client
	Cfg       *config.Config

	UserStates map[int64]string
	StatesMu   sync.RWMutex

	adjustTargets map[int64]int64
	drafts        map[int64]*broadcastDraft

	username string
}

func NewBot(cfg *config.Config, instance *telego.Bot, store *ledger.Store, referrals *ledger.Engine,
	quota *ledger.Gate, aiClient *ai.Client, extractor *extract.Client, rdb *redis.Client) *Bot {
	return &Bot{
		Instance:      instance,
		Store:         store,
		Referrals:     referrals,
		Quota:         quota,
		AI:            aiClient,
		Extractor:     extractor,
		Redis:         rdb,
		Cfg:           cfg,
		UserStates:    make(map[int64]string),
		adjustTargets: make(map[int64]int64),
		drafts:        make(map[int64]*broadcastDraft),
	}
}

func (b *Bot) Start() {
	ctx := context.Background()

	if me, err := b.Instance.GetMe(ctx); err == nil {
		b.username = me.Username
	} else {
		log.Printf("Failed to get bot identity: %v", err)
	}
	b.setCommands(ctx)

	updates, _ := b.Instance.UpdatesViaLongPolling(ctx, nil)
	handler, _ := th.NewBotHandler(b.Instance, updates)

	// /start command with optional referral payload
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		message := update.Message
		from := message.From
		telegramID := from.ID
		username := from.Username
		if username == "" {
			username = from.FirstName
		}

		payload := ""
		if parts := strings.Split(message.Text, " "); len(parts) > 1 {
			payload = parts[1]
		}

		user, result, err := b.Referrals.Register(ctx.Context(), telegramID, username, payload)
		if err != nil {
			log.Printf("Failed to register user %d: %v", telegramID, err)
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(message.Chat.ID), "❌ Ошибка. Попробуйте позже."))
			return nil
		}
		if result == ledger.ResultSelfReferral {
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(message.Chat.ID), selfReferralText))
		}

		if b.Cfg.ChannelID != "" && !b.refreshSubscription(ctx.Context(), telegramID) {
			b.sendSubscriptionPrompt(ctx.Context(), telegramID, welcomeText+"\n\n"+subscriptionPromptText)
			return nil
		}

		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(message.Chat.ID), welcomeText).
			WithReplyMarkup(b.mainKeyboard(b.isAdmin(telegramID))))
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(message.Chat.ID),
			fmt.Sprintf("У вас %d запросов.", user.RequestsLeft)))
		return nil
	}, th.CommandEqual("start"))

	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(update.Message.Chat.ID), helpText))
		return nil
	}, th.CommandEqual("help"))

	// "I subscribed" confirmation: drop the cached verdict and re-check
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		telegramID := callback.From.ID
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID).WithText("Проверяю..."))

		if b.Redis != nil {
			b.Redis.Del(ctx.Context(), subscriptionCacheKey(telegramID))
		}
		if !b.refreshSubscription(ctx.Context(), telegramID) {
			b.sendSubscriptionPrompt(ctx.Context(), telegramID, subscriptionNotYetText)
			return nil
		}

		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), subscriptionThanksText))
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), welcomeText).
			WithReplyMarkup(b.mainKeyboard(b.isAdmin(telegramID))))
		if user, err := b.Store.GetUser(telegramID); err == nil {
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID),
				fmt.Sprintf("У вас %d запросов.", user.RequestsLeft)))
		}
		return nil
	}, th.CallbackDataEqual("check_subscription"))

	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		telegramID := update.Message.From.ID
		user, err := b.Store.GetUser(telegramID)
		if err != nil {
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), "Пожалуйста, /start."))
			return nil
		}
		if b.Cfg.ChannelID != "" && !user.SubscribedToChannel && !b.refreshSubscription(ctx.Context(), telegramID) {
			b.sendSubscriptionPrompt(ctx.Context(), telegramID, subscriptionPromptText)
			return nil
		}
		if user.RequestsLeft <= 0 {
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), b.noRequestsMessage(user.ReferralCode)))
			return nil
		}
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), startWorkText))
		return nil
	}, th.TextEqual(btnStartWork))

	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(update.Message.Chat.ID), helpText))
		return nil
	}, th.TextEqual(btnHelp))

	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		telegramID := update.Message.From.ID
		user, err := b.Store.GetUser(telegramID)
		if err != nil {
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), "Пожалуйста, /start."))
			return nil
		}
		settings, err := b.Store.GetReferralSettings()
		if err != nil {
			log.Printf("Failed to load referral settings: %v", err)
			return nil
		}
		msg := fmt.Sprintf("🤝 Приглашай друзей и получай запросы!\n\n"+
			"За каждого друга: +%d запросов.\n"+
			"За %d друзей: ещё +%d запросов.\n"+
			"Приглашено: %d/%d\n\n"+
			"🔗 Твоя ссылка:\n%s",
			settings.ReferralRequests, ledger.ReferralTarget, settings.BulkReferralRequests,
			user.InvitedFriendsCount, ledger.ReferralTarget, b.referralLink(user.ReferralCode))
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), msg))
		return nil
	}, th.TextEqual(btnInvite))

	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		telegramID := update.Message.From.ID
		user, err := b.Store.GetUser(telegramID)
		if err != nil {
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), "Пожалуйста, /start."))
			return nil
		}
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), "⚙️ Настройки:").
			WithReplyMarkup(settingsKeyboard(user.NotificationsEnabled)))
		return nil
	}, th.TextEqual(btnSettings))

	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		telegramID := callback.From.ID
		user, err := b.Store.GetUser(telegramID)
		if err != nil {
			_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID).WithText("Юзер не найден.").WithShowAlert())
			return nil
		}
		enabled := !user.NotificationsEnabled
		if err := b.Store.UpdateUser(telegramID, map[string]interface{}{"notifications_enabled": enabled}); err != nil {
			log.Printf("Failed to toggle notifications for %d: %v", telegramID, err)
			return nil
		}
		state := "ВЫКЛ"
		if enabled {
			state = "ВКЛ"
		}
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID).WithText("Уведомления "+state+"."))
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), "⚙️ Настройки:").
			WithReplyMarkup(settingsKeyboard(enabled)))
		return nil
	}, th.CallbackDataEqual("toggle_notifications"))

	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		user, err := b.Store.GetUser(callback.From.ID)
		if err != nil {
			_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID).WithText("Юзер не найден.").WithShowAlert())
			return nil
		}
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID).
			WithText(fmt.Sprintf("У вас %d запросов.", user.RequestsLeft)).WithShowAlert())
		return nil
	}, th.CallbackDataEqual("check_balance"))

	b.registerAdminHandlers(handler)

	// Everything else is a task submission (or admin state input)
	handler.Handle(b.handleMessage, th.AnyMessage())

	log.Println("Bot handlers registered, starting long polling")
	handler.Start()
}

func (b *Bot) handleMessage(ctx *th.Context, update telego.Update) error {
	message := update.Message
	if message == nil || message.From == nil {
		return nil
	}
	telegramID := message.From.ID

	if b.isAdmin(telegramID) && b.handleAdminInput(ctx, message) {
		return nil
	}
	if message.Text != "" && strings.HasPrefix(message.Text, "/") {
		return nil
	}
	return b.handleTask(ctx, message)
}

func (b *Bot) handleTask(ctx *th.Context, message *telego.Message) error {
	telegramID := message.From.ID
	chatID := message.Chat.ID

	user, err := b.Store.GetUser(telegramID)
	if errors.Is(err, ledger.ErrUserNotFound) {
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(chatID), "Пожалуйста, /start."))
		return nil
	}
	if err != nil {
		log.Printf("Failed to load user %d: %v", telegramID, err)
		return nil
	}

	if b.Cfg.ChannelID != "" && !user.SubscribedToChannel && !b.refreshSubscription(ctx.Context(), telegramID) {
		b.sendSubscriptionPrompt(ctx.Context(), telegramID, subscriptionPromptText)
		return nil
	}

	decision, user, err := b.Quota.Authorize(telegramID)
	if err != nil {
		log.Printf("Failed to authorize %d: %v", telegramID, err)
		return nil
	}
	if !decision.Allowed {
		if decision.Reason == ledger.DenyNotStarted {
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(chatID), "Пожалуйста, /start."))
		} else {
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(chatID), b.noRequestsMessage(user.ReferralCode)))
		}
		return nil
	}

	processing, err := ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(chatID), "🧠 Думаю..."))
	if err != nil {
		log.Printf("Failed to send processing notice to %d: %v", telegramID, err)
		return nil
	}

	taskInput, ok := b.collectTaskInput(ctx, message, processing.MessageID)
	if !ok {
		return nil
	}

	answer, err := b.AI.Complete(ctx.Context(), taskInput)
	if err != nil {
		log.Printf("Completion failed for %d: %v", telegramID, err)
		b.editMessage(ctx.Context(), chatID, processing.MessageID, upstreamFailureText)
		return nil
	}

	// Debit only once the answer is actually in front of the user.
	if err := b.editMessageErr(ctx.Context(), chatID, processing.MessageID, answer); err != nil {
		log.Printf("Failed to deliver answer to %d: %v", telegramID, err)
		b.editMessage(ctx.Context(), chatID, processing.MessageID, "😕 Ошибка отображения ответа. Запрос не списан.")
		return nil
	}
	balance, err := b.Quota.Spend(telegramID)
	if err != nil {
		log.Printf("Failed to debit %d: %v", telegramID, err)
		return nil
	}
	_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(chatID),
		fmt.Sprintf("(Запросов: %d)", balance)).WithDisableNotification())
	return nil
}

// collectTaskInput turns the message into prompt text: raw text as-is, photos
// and PDFs through the extraction sidecar.
func (b *Bot) collectTaskInput(ctx *th.Context, message *telego.Message, processingID int) (string, bool) {
	chatID := message.Chat.ID

	switch {
	case message.Text != "":
		return message.Text, true
	case len(message.Photo) > 0:
		photo := message.Photo[len(message.Photo)-1]
		fileURL, err := b.fileURL(ctx.Context(), photo.FileID)
		if err != nil {
			log.Printf("Failed to resolve photo file for %d: %v", message.From.ID, err)
			b.editMessage(ctx.Context(), chatID, processingID, upstreamFailureText)
			return "", false
		}
		text, err := b.Extractor.FromImage(ctx.Context(), fileURL)
		if err != nil {
			log.Printf("Image extraction failed for %d: %v", message.From.ID, err)
			b.editMessage(ctx.Context(), chatID, processingID, "Не удалось извлечь текст из изображения. Запрос не списан.")
			return "", false
		}
		return text, text != ""
	case message.Document != nil:
		if message.Document.MimeType != "application/pdf" {
			b.editMessage(ctx.Context(), chatID, processingID, "Формат документа не поддерживается. Отправьте PDF.")
			return "", false
		}
		fileURL, err := b.fileURL(ctx.Context(), message.Document.FileID)
		if err != nil {
			log.Printf("Failed to resolve document file for %d: %v", message.From.ID, err)
			b.editMessage(ctx.Context(), chatID, processingID, upstreamFailureText)
			return "", false
		}
		text, err := b.Extractor.FromPDF(ctx.Context(), fileURL)
		if err != nil {
			log.Printf("PDF extraction failed for %d: %v", message.From.ID, err)
			b.editMessage(ctx.Context(), chatID, processingID, "Не удалось извлечь текст из PDF. Запрос не списан.")
			return "", false
		}
		return text, text != ""
	}

	b.editMessage(ctx.Context(), chatID, processingID, "Нет данных для обработки.")
	return "", false
}

func (b *Bot) refreshSubscription(ctx context.Context, telegramID int64) bool {
	if b.Cfg.ChannelID == "" {
		return true
	}
	key := subscriptionCacheKey(telegramID)
	if b.Redis != nil {
		if val, err := b.Redis.Get(ctx, key).Result(); err == nil {
			return val == "1"
		}
	}

	subscribed := false
	member, err := b.Instance.GetChatMember(ctx, &telego.GetChatMemberParams{
		ChatID: b.channelChatID(),
		UserID: telegramID,
	})
	if err != nil {
		log.Printf("Failed to check channel membership for %d: %v", telegramID, err)
	} else {
		switch member.MemberStatus() {
		case telego.MemberStatusMember, telego.MemberStatusAdministrator, telego.MemberStatusCreator:
			subscribed = true
		}
	}

	if b.Redis != nil {
		cached := "0"
		if subscribed {
			cached = "1"
		}
		b.Redis.Set(ctx, key, cached, 5*time.Minute)
	}
	if err := b.Store.UpdateUser(telegramID, map[string]interface{}{"subscribed_to_channel": subscribed}); err != nil && !errors.Is(err, ledger.ErrUserNotFound) {
		log.Printf("Failed to persist subscription flag for %d: %v", telegramID, err)
	}
	return subscribed
}

func (b *Bot) sendSubscriptionPrompt(ctx context.Context, telegramID int64, text string) {
	rows := make([][]telego.InlineKeyboardButton, 0, 2)
	if url := b.channelButtonURL(); url != "" {
		rows = append(rows, tu.InlineKeyboardRow(tu.InlineKeyboardButton("➡️ Подписаться на канал").WithURL(url)))
	} else {
		text += fmt.Sprintf("\n\nКанал: %s. Найдите вручную.", b.Cfg.ChannelID)
	}
	rows = append(rows, tu.InlineKeyboardRow(tu.InlineKeyboardButton("✅ Я подписался").WithCallbackData("check_subscription")))

	_, err := b.Instance.SendMessage(ctx, tu.Message(tu.ID(telegramID), text).WithReplyMarkup(tu.InlineKeyboard(rows...)))
	if err != nil {
		log.Printf("Failed to send subscription prompt to %d: %v", telegramID, err)
	}
}

func (b *Bot) channelChatID() telego.ChatID {
	if strings.HasPrefix(b.Cfg.ChannelID, "@") {
		return tu.Username(b.Cfg.ChannelID)
	}
	id, err := strconv.ParseInt(b.Cfg.ChannelID, 10, 64)
	if err != nil {
		return tu.Username("@" + b.Cfg.ChannelID)
	}
	return tu.ID(id)
}

func (b *Bot) channelButtonURL() string {
	if b.Cfg.ChannelInviteLink != "" {
		return b.Cfg.ChannelInviteLink
	}
	if strings.HasPrefix(b.Cfg.ChannelID, "@") {
		return "https://t.me/" + strings.TrimPrefix(b.Cfg.ChannelID, "@")
	}
	return ""
}

func (b *Bot) noRequestsMessage(referralCode string) string {
	settings, err := b.Store.GetReferralSettings()
	if err != nil {
		log.Printf("Failed to load referral settings: %v", err)
		settings = ledger.ReferralSettings{
			ReferralRequests:     ledger.DefaultReferralRequests,
			BulkReferralRequests: ledger.DefaultBulkReferralRequests,
		}
	}
	return fmt.Sprintf(noRequestsText, ledger.ReferralTarget, settings.BulkReferralRequests, b.referralLink(referralCode))
}

func (b *Bot) referralLink(code string) string {
	return fmt.Sprintf("https://t.me/%s?start=%s", b.username, code)
}

func (b *Bot) fileURL(ctx context.Context, fileID string) (string, error) {
	file, err := b.Instance.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		return "", fmt.Errorf("failed to get file %s: %w", fileID, err)
	}
	return b.Instance.FileDownloadURL(file.FilePath), nil
}

func (b *Bot) editMessage(ctx context.Context, chatID int64, messageID int, text string) {
	if err := b.editMessageErr(ctx, chatID, messageID, text); err != nil {
		log.Printf("Failed to edit message %d in chat %d: %v", messageID, chatID, err)
	}
}

func (b *Bot) editMessageErr(ctx context.Context, chatID int64, messageID int, text string) error {
	_, err := b.Instance.EditMessageText(ctx, &telego.EditMessageTextParams{
		ChatID:    tu.ID(chatID),
		MessageID: messageID,
		Text:      text,
	})
	return err
}

func (b *Bot) isAdmin(telegramID int64) bool {
	return slices.Contains(b.Cfg.AdminIDs, telegramID)
}

func (b *Bot) mainKeyboard(isAdmin bool) *telego.ReplyKeyboardMarkup {
	rows := [][]telego.KeyboardButton{
		tu.KeyboardRow(tu.KeyboardButton(btnStartWork)),
		tu.KeyboardRow(tu.KeyboardButton(btnHelp), tu.KeyboardButton(btnInvite)),
		tu.KeyboardRow(tu.KeyboardButton(btnSettings)),
	}
	if isAdmin {
		rows = append(rows, tu.KeyboardRow(tu.KeyboardButton(btnAdmin)))
	}
	return tu.Keyboard(rows...).WithResizeKeyboard()
}

func settingsKeyboard(notificationsEnabled bool) *telego.InlineKeyboardMarkup {
	label := "Уведомления: Выкл ❌"
	if notificationsEnabled {
		label = "Уведомления: Вкл ✅"
	}
	return tu.InlineKeyboard(
		tu.InlineKeyboardRow(tu.InlineKeyboardButton(label).WithCallbackData("toggle_notifications")),
		tu.InlineKeyboardRow(tu.InlineKeyboardButton("Мой баланс").WithCallbackData("check_balance")),
	)
}

func subscriptionCacheKey(telegramID int64) string {
	return fmt.Sprintf("subcheck_%d", telegramID)
}

func (b *Bot) setCommands(ctx context.Context) {
	err := b.Instance.SetMyCommands(ctx, &telego.SetMyCommandsParams{
		Commands: []telego.BotCommand{
			{Command: "start", Description: "🚀 Старт/Перезапуск"},
			{Command: "help", Description: "❓ Помощь"},
		},
	})
	if err != nil {
		log.Printf("Failed to set bot commands: %v", err)
	}
}
