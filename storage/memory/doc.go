// Package memory provides an in-memory implementation of the Data Handler
// contract, including the device grant capability.
//
// The store keeps clients, resource owner credentials, grants, access
// tokens, and device authorizations in maps guarded by a sync.RWMutex.
// Every record handed out is a copy, so callers can mutate results
// without racing the store. A background sweeper removes expired access
// tokens and device authorizations; grants are kept for the life of the
// process because their refresh tokens have no expiry of their own.
//
// It is suitable for development, testing, and single-instance
// deployments. For deployments requiring persistence or multiple
// instances, use the storage/redis or storage/postgres package instead.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	store.CreateClient(&storage.Client{ClientID: "cli"}, "secret")
//
//	srv, err := server.New(store, nil, logger)
package memory
