// Package web holds the embedded browser viewer.
package web

import "embed"

//go:embed index.html
var Content embed.FS
