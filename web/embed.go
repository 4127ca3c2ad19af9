package web

import "embed"

// FS contains the embedded status page.
//
//go:embed *.html *.js
var FS embed.FS
