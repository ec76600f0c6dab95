// Package schedule persists recurring merge schedules.
//
// It currently supports:
//   - An ordered text file of entry records (default)
//   - A SQLite database file (optional build tag)
//
// The store exclusively owns durable state; Entry values handed out by
// LoadAll are transient working copies reconciled back via Save.
package schedule
