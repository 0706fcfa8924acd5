package bot

import (
	"fmt"
	"html"
	"strings"

	"gpvbot/internal/notifier"
	"gpvbot/internal/schedule"
	kit "gpvbot/internal/transport"
)

const parseModeHTML = "HTML"

// StatusIcon returns the emoji and label shown for a raw slot code.
func StatusIcon(raw string) (icon, label string) {
	switch schedule.StatusOf(raw) {
	case schedule.StatusNoPower:
		return "🔴", labelNoPower
	case schedule.StatusPossibleOutage:
		return "⚪", labelPossibleOutage
	case schedule.StatusPowerAvailable:
		return "🟢", labelPowerAvailable
	default:
		return "❓", fmt.Sprintf("%s (%s)", labelUnknown, html.EscapeString(raw))
	}
}

// FormatDay renders a day's schedule as Telegram HTML.
func FormatDay(day schedule.Day) string {
	date := day.Key()
	group := html.EscapeString(day.Group)
	if len(day.Slots) == 0 {
		return fmt.Sprintf(textNoGroupData, date, group)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📅 <b>Графік ГПВ: %s</b>\n", date)
	fmt.Fprintf(&b, "👥 <b>Група: %s</b>\n", group)
	b.WriteString(separator + "\n")
	for _, label := range day.Labels() {
		icon, text := StatusIcon(day.Slots[label])
		fmt.Fprintf(&b, "%s <code>%s</code> — %s\n", icon, html.EscapeString(label), text)
	}
	b.WriteString(separator + "\n")
	b.WriteString("<b>Умовні позначення:</b>\n")
	b.WriteString("🔴 — Відключення\n")
	b.WriteString("⚪ — Можливе відключення\n")
	b.WriteString("🟢 — Світло є")
	return b.String()
}

// UpdateMessage is the change notification pushed to subscribers.
func UpdateMessage(day schedule.Day) notifier.Message {
	return notifier.Message{
		Text:    textUpdatePrefix + FormatDay(day),
		Options: &kit.SendOptions{ParseMode: parseModeHTML, DisablePreview: true},
	}
}

// Keyboard is the reply keyboard; the last row offers the opposite of the
// current notification state.
func Keyboard(enabled bool) [][]string {
	toggle := BtnDisable
	if !enabled {
		toggle = BtnEnable
	}
	return [][]string{
		{BtnToday, BtnTomorrow},
		{BtnStatus, BtnHelp},
		{toggle},
	}
}
