// Package appfs embeds the static files shipped with the portal.
package appfs

import "embed"

//go:embed migrations/*.sql
var FS embed.FS
