// Package dbmigrations exposes the embedded journal schema migrations.
package dbmigrations

import "embed"

// Files contains the SQL migrations bundled into engine binaries.
//
//go:embed *.sql
var Files embed.FS
