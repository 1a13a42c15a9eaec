// Package transcript persists player responses and reloads conversations so
// a player can resume where it left off.
//
// Three implementations ship with the module:
//
//   - InMemoryStore: process-local, for tests and demos
//   - sqlstore.Store: GORM-backed (SQLite by default, Postgres or MySQL)
//   - redisstore.Store: Redis lists and hashes
//
// All of them satisfy Store and are safe for concurrent use.
package transcript
