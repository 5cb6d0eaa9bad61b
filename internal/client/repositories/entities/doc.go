// Package entities provides the on-device persistence of synced entities.
//
// # Overview
//
// Each row holds one Entity: kind, parent relation with its timestamp,
// the timestamped field map (stored as JSON), the server version last
// seen and the tombstone. Tombstoned rows stay until the delete has been
// acknowledged by the remote and the owner purges them.
//
// Key Types
//
//   - type Repository       - interface used by the store
//   - type SQLiteRepository - SQLite implementation over dbx.DBTX
//   - type ListOptions      - filter and order for List
//
// Typical Usage
//
//	repo := entities.NewSQLiteRepository(tx)
//	_ = repo.Put(ctx, e)
//	for e, err := range repo.List(ctx, entities.ListOptions{ParentID: sid}) {
//	    ...
//	}
package entities
