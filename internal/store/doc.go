// Package store provides persistent storage for hubgate using SQLite.
//
// # Data Models
//
//   - Principal: an identity whose tokens may authenticate hub connections.
//     Only approved principals pass the handshake when principals are required.
//   - AuditEntry: append-only record of principal changes and handshake
//     outcomes (session_authenticated, handshake_rejected, handshake_timeout).
//
// # SQLite Configuration
//
// The store uses modernc.org/sqlite (pure Go) with WAL mode:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA busy_timeout=5000;
//
// The schema is created on open and column migrations are applied
// idempotently.
//
// # Errors
//
//   - ErrPrincipalNotFound: requested principal does not exist
//   - ErrDuplicatePrincipal: principal id already taken
//   - ErrInvalidStatus / ErrInvalidType: value outside the known set
//   - ErrMetadataTooLarge: metadata JSON above MaxMetadataSize
//
// # Testing
//
// Use NewMockStore() for unit tests of packages that depend on Store, and
// NewSQLiteStore(path) with t.TempDir() for store tests.
package store
