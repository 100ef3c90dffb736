package restapi

import (
	"net/http"

	"github.com/gorilla/mux"
)

func handleGalleryList(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Store == nil {
			writeError(w, http.StatusServiceUnavailable, "database not configured")
			return
		}
		identities, err := d.Store.ListIdentities(r.Context())
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"identities": identities, "count": len(identities)})
	}
}

func handleGalleryDelete(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Store == nil {
			writeError(w, http.StatusServiceUnavailable, "database not configured")
			return
		}
		identityID := mux.Vars(r)["identity_id"]
		if err := d.Store.DeleteIdentity(r.Context(), identityID); err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"identity_id": identityID, "status": "deleted"})
	}
}

func handleGetTemplate(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Store == nil {
			writeError(w, http.StatusServiceUnavailable, "database not configured")
			return
		}
		id := mux.Vars(r)["id"]
		row, err := d.Store.GetTemplate(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		if row == nil {
			writeError(w, http.StatusNotFound, "template not found")
			return
		}
		writeJSON(w, http.StatusOK, row)
	}
}
