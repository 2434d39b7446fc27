package portal

import (
	_ "embed"
	"net/http"
)

//go:embed viewer.html
var viewerHTML []byte

func (s *Server) handleViewer(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(viewerHTML)
}
