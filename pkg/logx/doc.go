// Package logx is cronkeeper's structured logger.
//
// A Logger is a zerolog logger plus fixed fields. Loggers handed out by a
// Service follow Service.Apply, so a config reload changes the level and the
// sinks of every component at once. Sinks:
//   - console, human readable with a short caller
//   - file, one JSON object per line
//   - chat, records at or above a minimum level forwarded through a Sender
package logx
