// Package session persists sessions and their epoch-versioned key-value
// state in Redis.
//
// A session lives in the hash session:{<token>}. User data lives in one hash
// per epoch, store:{<token>}:<epoch>. The braces make the token a cluster
// hash tag so the scripts only ever touch one slot. Reads resolve a field at the current
// epoch, falling back to the newest older epoch that holds it and moving the
// value forward into the current shard. Writes land in shard epoch+1 and only
// become visible once IncrementEpoch advances the session.
package session
