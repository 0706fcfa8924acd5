package bot

// Reply keyboard labels. Incoming text is matched against these exactly.
const (
	BtnToday    = "📅 Графік на сьогодні"
	BtnTomorrow = "⏭️ Графік на завтра"
	BtnStatus   = "📊 Мій статус"
	BtnHelp     = "❓ Допомога"
	BtnDisable  = "🔕 Вимкнути сповіщення"
	BtnEnable   = "🔔 Увімкнути сповіщення"
)

const (
	textGreeting = "👋 Бот активний!\n\nЯ стежу за графіком погодинних відключень для групи <b>%s</b> і надішлю повідомлення, коли він зміниться."
	textHelp     = "ℹ️ <b>Як користуватися</b>\n\n" +
		BtnToday + " — графік на сьогодні\n" +
		BtnTomorrow + " — графік на завтра\n" +
		BtnStatus + " — стан сповіщень\n" +
		BtnDisable + " / " + BtnEnable + " — керування сповіщеннями\n\n" +
		"Команди: /today /tomorrow /status /stop /on /help"
	textTodayMissing    = "⚠️ Графік на сьогодні ще не опублікований."
	textTomorrowMissing = "⚠️ Графік на завтра ще не опублікований."
	textUnavailable     = "⏳ Сервер з графіками зараз недоступний. Спробуйте трохи пізніше."
	textStorageFailed   = "⚠️ Не вдалося зберегти налаштування. Спробуйте ще раз."
	textDisabled        = "🔕 Сповіщення вимкнено."
	textEnabled         = "🔔 Сповіщення увімкнено!"
	textUnknown         = "Не розумію 🤔 Скористайтеся кнопками нижче."
	textStatusOn        = "✅ Активні"
	textStatusOff       = "🔕 Вимкнені"
	textNoGroupData     = "📅 <b>Графік на %s</b>\n\nДані для групи %s відсутні."
	textUpdatePrefix    = "🔄 <b>ОНОВЛЕННЯ ГРАФІКУ!</b>\n\n"
)

// Slot status labels.
const (
	labelNoPower        = "Немає світла"
	labelPossibleOutage = "Можливе відключення"
	labelPowerAvailable = "Світло є"
	labelUnknown        = "Невідомо"
)

const separator = "⎯⎯⎯⎯⎯⎯⎯⎯⎯⎯⎯⎯⎯⎯⎯⎯⎯⎯⎯⎯⎯⎯"
