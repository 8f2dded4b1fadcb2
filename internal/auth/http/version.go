package http

import (
	"net/http"

	"github.com/lockplane/authd/pkg/httpx"
)

// VersionHandler godoc
//
//	@Summary		Version Endpoint
//	@Description	Returns the running build version
//	@Tags			Health
//	@Produce		json
//	@Success		200	{object}	map[string]string	"version"
//	@Router			/version [get]
func VersionHandler(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{
			"version": version,
		})
	}
}
