package web

import (
	_ "embed"
	"net/http"

	"github.com/go-chi/chi/v5"
)

//go:embed static/index.html
var indexHTML []byte

// RegisterRoutes 挂载单页聊天界面
func RegisterRoutes(r chi.Router) {
	r.Get("/", handleIndex)
}

func handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	w.Write(indexHTML)
}
