// Package sync implements reconciliation between the local task cache
// and a remote CalDAV task collection.
//
// Overview
//
// The engine moves state in two directions. Pull replaces the local
// cache for a calendar with the decoded remote records; push replays
// pending local operations (create, update, delete) against the remote
// collection one record at a time.
//
//	Remote collection (CalDAV server)
//	         ↑↓  Gateway (caldav.Client)
//	       Engine
//	         │   codec: decode / encode records
//	         │   hierarchy: repair parent references
//	         ↑↓  Store (SQLite cache)
//	Local cache (CLI, REST API read side)
//
// Usage
//
// Basic usage:
//
//	gateway, err := caldav.NewClient(cfg.Server.URL, cfg.Server.Username, cfg.Server.Password, nil)
//	if err != nil {
//	    return err
//	}
//	engine := sync.New(gateway, st)
//
//	// One calendar:
//	stats, err := engine.Pull(ctx, calURL)
//
//	// Everything:
//	report, err := engine.SyncAll(ctx)
//
// Error Handling
//
// The engine is resilient to individual record failures:
//
//   - Records that fail to decode during pull are counted and skipped
//   - A push failure isolates to its record: the attempt counter is
//     bumped, the record stays pending, and the batch continues
//   - Transient transport failures are retried with exponential backoff;
//     authentication failures abort immediately
//   - A record is only marked synced after the remote operation and the
//     local bookkeeping both succeed
package sync
