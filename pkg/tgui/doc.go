// Package tgui holds the small Telegram UI helpers the bot renders with:
// inline keyboards, "ns:action:payload" callback data, paging labels and
// rune-safe truncation.
package tgui
