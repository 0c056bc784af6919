// Package web holds the relay dashboard, compiled into the binary.
package web

import (
	"embed"
	"html/template"
	"io"
	"io/fs"
)

//go:embed static
var embeddedFiles embed.FS

var indexTemplate = template.Must(template.ParseFS(embeddedFiles, "static/index.html"))

// Dashboard is the data the index page is rendered with.
type Dashboard struct {
	DetectorURL string
	AuthEnabled bool
	LogLimit    int
}

// RenderIndex writes the dashboard page.
func RenderIndex(w io.Writer, data Dashboard) error {
	if data.LogLimit <= 0 {
		data.LogLimit = 5
	}
	return indexTemplate.Execute(w, data)
}

// Static returns the files served under /static/.
func Static() fs.FS {
	sub, err := fs.Sub(embeddedFiles, "static")
	if err != nil {
		panic(err)
	}
	return sub
}
