// Package storage provides interfaces and record types for OAuth client,
// token, code, and user persistence.
//
// The storage package defines the core interfaces used throughout the
// oauth-provider library:
//   - ClientStore: registered OAuth clients
//   - TokenStore: access and refresh tokens
//   - FlowStore: authorization codes and browser login state
//   - UserStore: local user profiles mapped from the external identity provider
//
// All records are flat JSON-serializable structs keyed in a prefixed keyspace
// (clients.<id>, auth_codes.<code>, access_tokens.<token>,
// refresh_tokens.<token>, users.<user_id>, pkce_state.<state>). Backends need
// only atomic single-key get/put/delete with optional per-key expiry; no
// cross-key transactions are assumed. Expiry is enforced twice: the store TTL
// is best-effort garbage collection, the record's expires_at timestamp is the
// authoritative check applied by readers.
//
// Implementations are provided in subpackages:
//   - storage/memory: in-memory storage for development and testing
//   - storage/redis: Redis/Valkey-backed distributed storage for production
package storage
