// Package registry implements the gateway's persistent trust state: the
// worker registry and the codehash allowlist.
//
// MemoryStore keeps both collections in memory. SQLStore keeps them in
// SQLite (modernc.org/sqlite, no cgo) or PostgreSQL (lib/pq) through sqlx.
// Both implement interfaces.TrustStore and are injected into the gateway.
//
// Revoking a codehash never touches worker records. Workers admitted under
// a revoked codehash keep their record and are refused at their next signing
// request.
package registry
