package handlers

import "net/http"

func handleJWKS(keys keySet) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=300")
		_, _ = w.Write(keys.PublicKeySetJSON())
	})
}
