package storage

// Package storage provides the persistence layer used by the bot.
//
// It currently supports:
//   - Named JSON documents (community configs)
//   - Post-log marks with a retention deadline (reminder dedup, survives restarts)
//   - An append-only journal of sent reminders
