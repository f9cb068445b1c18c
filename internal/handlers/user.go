package handlers

import (
	"net/http"

	"github.com/nkiryanov/gophauth/internal/handlers/render"
	"github.com/nkiryanov/gophauth/internal/handlers/userctx"
)

func handleMe() http.Handler {
	type response struct {
		Subject string   `json:"sub"`
		Roles   []string `json:"roles"`
		Scopes  []string `json:"scopes"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, _ := userctx.FromContext(r.Context())
		render.JSON(w, response{Subject: ac.Subject, Roles: ac.Roles, Scopes: ac.Scopes})
	})
}
