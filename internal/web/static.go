package web

import (
	"embed"
)

// staticFiles holds the kiosk page: HTML, CSS and the JS driving the API.
// The final binary includes all files under static/.
//
//go:embed static/*
var staticFiles embed.FS
