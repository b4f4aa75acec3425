package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ---------------------------------------------------------------------------
// Generic read handler factories
// ---------------------------------------------------------------------------

// handleList creates a handler that returns a list as JSON, never null.
func handleList[T any](listFn func(r *http.Request) []T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items := listFn(r)
		if items == nil {
			items = []T{}
		}
		writeJSON(w, http.StatusOK, items)
	}
}

// handleGet creates a handler that retrieves a single resource by URL param "id".
func handleGet[T any](getFn func(id string) (T, error), notFoundMsg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := getFn(chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, err, notFoundMsg)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}
