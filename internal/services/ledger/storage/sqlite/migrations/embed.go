// Package migrations embeds the SQL migrations for the ledger's SQLite
// databases.
package migrations

import "embed"

// EventsFS holds migrations for the journal database (events, stream
// versions, snapshots).
//
//go:embed events/*.sql
var EventsFS embed.FS

// ProjectionsFS holds migrations for the read model database.
//
//go:embed projections/*.sql
var ProjectionsFS embed.FS
