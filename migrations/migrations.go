// Package migrations embeds the application schema. River's own tables are
// managed separately by rivermigrate.
package migrations

import _ "embed"

//go:embed schema.sql
var Schema string
