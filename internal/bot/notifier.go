package bot

import (
	"context"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// TelegramNotifier adapts the telego bot to the ledger's Notifier interface.
type TelegramNotifier struct {
	Instance *telego.Bot
}

func NewTelegramNotifier(instance *telego.Bot) *TelegramNotifier {
	return &TelegramNotifier{Instance: instance}
}

func (n *TelegramNotifier) Notify(ctx context.Context, telegramID int64, text string) error {
	_, err := n.Instance.SendMessage(ctx, tu.Message(tu.ID(telegramID), text))
	return err
}
