// Package webfs embeds the page templates and static assets served by the
// HTTP layer.
package webfs

import "embed"

//go:embed all:static all:templates
var FS embed.FS
