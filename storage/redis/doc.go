// Package redis provides a Redis storage backend for the authorization
// server core.
//
// This package implements the full Data Handler contract, including the
// device grant capability, making it suitable for deployments that
// require:
//
//   - Distributed storage for horizontal scaling
//   - Persistence across server restarts
//   - Automatic TTL-based expiration
//   - High availability with clustering
//
// # Implemented Interfaces
//
// The Store type implements:
//
//   - [storage.DataHandler]: clients, resource owners, grants, and tokens
//   - [storage.DeviceStore]: device authorizations for the device flow
//
// # Key Schema
//
// All keys use a configurable prefix (default "oauth2:") to avoid
// conflicts with other applications sharing the same Redis instance:
//
//	{prefix}client:{clientID}           -> JSON(Client)
//	{prefix}user:{username}             -> JSON(user credentials)
//	{prefix}grant:{id}                  -> JSON(AuthInfo)
//	{prefix}grant:owner:{cid}:{uid}     -> grant ID (per-owner index)
//	{prefix}grant:code:{code}           -> grant ID (with TTL)
//	{prefix}grant:refresh:{token}       -> grant ID (with TTL)
//	{prefix}token:{token}               -> JSON(AccessToken) (with TTL)
//	{prefix}token:grant:{grantID}       -> current token string
//	{prefix}device:{deviceCode}         -> JSON(DeviceAuthorization) (with TTL)
//	{prefix}device:user:{userCode}      -> deviceCode (with TTL)
//
// Grant keys carry an idle TTL (Config.GrantTTL) that every code or token
// issuance renews, so abandoned grants eventually lapse without a
// background sweeper.
//
// # Atomic Operations
//
// The Data Handler contract requires certain operations to be atomic:
//
//   - MarkAuthInfoUsed: single-use authorization codes with replay detection
//   - TouchDevicePoll: poll pacing against a consistent snapshot
//   - ConsumeDeviceAuthorization: at-most-once token issuance per decision
//
// These operations run as Lua scripts, providing the same guarantees as
// the in-memory implementation but with distributed storage benefits.
//
// # Configuration
//
// Basic usage:
//
//	store, err := redis.New(redis.Config{
//	    Address:   "localhost:6379",
//	    KeyPrefix: "oauth2:",
//	})
//
// With TLS:
//
//	store, err := redis.New(redis.Config{
//	    Address:  "redis.example.com:6379",
//	    Password: os.Getenv("REDIS_PASSWORD"),
//	    TLS:      &tls.Config{MinVersion: tls.VersionTLS12},
//	})
//
// # Security Considerations
//
//   - Volatile records are stored with TTLs to prevent unbounded growth
//   - Lua scripts ensure atomic operations for security-critical flows
//   - Constant-time bcrypt comparison prevents timing attacks in client
//     and resource owner authentication
//   - TLS support enables encrypted connections to Redis servers
//   - Input size validation prevents DoS attacks via oversized payloads
//   - Authentication failures use generic errors to prevent enumeration
package redis
