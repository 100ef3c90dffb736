package restapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

func handleDBSchema(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Store == nil {
			writeError(w, http.StatusServiceUnavailable, "database not configured")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"tables": d.Store.Schema(r.Context())})
	}
}

func handleDBTableRows(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Store == nil {
			writeError(w, http.StatusServiceUnavailable, "database not configured")
			return
		}
		table := mux.Vars(r)["name"]
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		rows, err := d.Store.TableRows(r.Context(), table, limit)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"table": table, "rows": rows, "count": len(rows)})
	}
}

func handleDBRow(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Store == nil {
			writeError(w, http.StatusServiceUnavailable, "database not configured")
			return
		}
		vars := mux.Vars(r)
		row, err := d.Store.TableRow(r.Context(), vars["table"], vars["pk"])
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if row == nil {
			writeError(w, http.StatusNotFound, "row not found")
			return
		}
		writeJSON(w, http.StatusOK, row)
	}
}

func handleDBStats(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Store == nil {
			writeError(w, http.StatusServiceUnavailable, "database not configured")
			return
		}
		stats, err := d.Store.Stats(r.Context())
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}
