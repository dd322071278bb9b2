package web

import (
	"embed"
	"io/fs"
)

//go:embed static
var ContentFS embed.FS

// StaticFS returns the browser UI rooted at the static directory.
func StaticFS() fs.FS {
	sub, err := fs.Sub(ContentFS, "static")
	if err != nil {
		panic(err)
	}
	return sub
}
