package bot

const (
	btnStartWork = "🚀 Начать работу с ГДЗ AI"
	btnHelp      = "❓ ПОМОЩЬ"
	btnInvite    = "👫💸 Пригласи друга"
	btnSettings  = "⚙️ Настройки"
	btnAdmin     = "👑 Админ-панель"

	welcomeText = "Привет! 👋 Я — ГДЗ AI. Пришли мне задачу текстом, фото или PDF, и я помогу с решением."

	helpText = "❓ Как пользоваться:\n" +
		"1. Пришли задание текстом, фото или PDF.\n" +
		"2. Каждый ответ стоит 1 запрос.\n" +
		"3. Баланс пополняется каждый день и за приглашённых друзей.\n" +
		"Кнопка «Пригласи друга» покажет твою ссылку."

	startWorkText = "Пришли задание текстом, фото или PDF — я возьмусь за решение."

	subscriptionPromptText = "Чтобы пользоваться ботом, подпишись на наш канал."
	subscriptionThanksText = "Спасибо за подписку! Можем начинать. 🎉"
	subscriptionNotYetText = "Пока не вижу подписки. Подпишись и нажми кнопку ещё раз."

	selfReferralText = "Своя реф. ссылка не засчитывается."

	noRequestsText = "У тебя закончились запросы. 😔\n" +
		"Пригласи %d друзей и получи +%d запросов!\n" +
		"Твоя ссылка: %s"

	upstreamFailureText = "😕 Нет ответа от AI. Запрос не списан, попробуй ещё раз."
)
