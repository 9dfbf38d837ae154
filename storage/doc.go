// Package storage defines the Data Handler contract: the persistence and
// authentication interface a host implements to back the authorization
// server core.
//
// The contract is split by concern and combined in DataHandler:
//   - ClientStore: authenticates clients, answers scope and redirect policy
//   - UserStore: authenticates resource owners for the password grant
//   - GrantStore: persists authorization grants and their single-use codes
//   - TokenStore: mints and resolves opaque access tokens
//   - DeviceStore: optional capability enabling the device grant pair
//
// The core calls these in guard order and never touches storage directly.
// Operations signal outcomes with the sentinel errors ErrNotFound,
// ErrDenied, and ErrGrantUsed; any other error is treated as a host
// failure.
//
// Reference implementations are provided in subpackages:
//   - storage/memory: in-memory store for development and testing
//   - storage/redis: Redis-backed store
//   - storage/postgres: PostgreSQL-backed store
package storage
