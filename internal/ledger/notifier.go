package ledger

import "context"

// Notifier delivers balance-change notices through the chat gateway.
// Delivery failures are logged by callers and never propagated.
type Notifier interface {
	Notify(ctx context.Context, telegramID int64, text string) error
}
