// Package tgui builds Telegram HTML message bodies.
//
// Values of type H are already escaped for ParseMode="HTML"; plain strings
// pass through Esc before they are embedded.
package tgui
