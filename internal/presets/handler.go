package presets

import (
	"encoding/json"
	"net/http"
)

type ListResponse struct {
	Items []Preset `json:"items"`
}

type Handler struct {
	catalog *Catalog
}

func NewHandler(catalog *Catalog) *Handler {
	return &Handler{catalog: catalog}
}

// List returns the static preset catalog. Public, no auth.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ListResponse{Items: h.catalog.List()})
}
