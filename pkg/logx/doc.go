// Package logx is the bot's structured logging layer on top of zerolog.
//
// Outputs:
//   - console: short timestamp and file:line caller
//   - file: JSON lines
//   - telegram: optional admin-chat sink with a minimum level and a rate limit
//
// A Logger taken from a Service follows every Service.Apply, so components can
// keep their logger across config reloads.
package logx
