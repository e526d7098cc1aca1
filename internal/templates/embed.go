// Package templates provides the catalog of starter chains with override support.
package templates

import "embed"

//go:embed catalog/*.yaml
var embeddedFS embed.FS
