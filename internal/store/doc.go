// Package store provides durable persistence for sealroom devices and
// settings, and the Vault that joins it with the in-memory key cache.
//
// Two backends implement the same contract:
//   - FileStore: devices.json plus one file per setting, written atomically
//     with 0600 permissions
//   - SQLiteStore: a devices and a settings table in one SQLite file
//
// Settings are opaque blobs; the group engine stores checksummed group
// state in them. Missing devices and settings are reported as
// domain.NotFoundError. Nothing here performs cryptography.
package store
