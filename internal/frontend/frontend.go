// Package frontend embeds and serves the registry's small static status
// page. The original registry's frontend is a separate Svelte build;
// standing one up is out of scope here, so this package serves a single
// embedded placeholder page plus any other file dropped under assets/.
package frontend

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed assets
var embedded embed.FS

// Handler returns an http.Handler serving the embedded asset tree rooted
// at assets/, with assets/index.html as the default document.
func Handler() http.Handler {
	sub, err := fs.Sub(embedded, "assets")
	if err != nil {
		panic(err)
	}
	return http.FileServer(http.FS(sub))
}
