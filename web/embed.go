package web

import "embed"

// Templates embeds HTML templates.
//
//go:embed templates/layouts/*.html templates/pages/*.html
var Templates embed.FS

// Static embeds static assets.
//
//go:embed static
var Static embed.FS
