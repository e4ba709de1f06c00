package middleware

import (
	"net/http"

	"github.com/squadkarma/karma-node/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}
