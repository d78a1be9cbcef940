// Package migrations embeds the harness state database schema.
//
// Importing it for side effects registers the files with the database
// package:
//
//	import _ "github.com/nerrad567/lightningd-harness/migrations"
package migrations

import (
	"embed"

	"github.com/nerrad567/lightningd-harness/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

func init() {
	database.Register(files)
}
