// Package appfs embeds the files the binaries need at runtime: migrations, templates and assets.
package appfs

import "embed"

// explicit globs so that "_base" templates are embedded too
//
//go:embed migrations/*.sql templates/email/*.txt templates/email/*.gohtml templates/sms.yaml assets/*.txt
var FS embed.FS
