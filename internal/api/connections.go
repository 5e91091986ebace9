package api

import (
	"net/http"

	"github.com/nerrad567/pairing-relay/internal/pairing"
)

// ConnectionView is the operator view of one live connection.
type ConnectionView struct {
	ID        string       `json:"id"`
	CreatedAt int64        `json:"createdAt"`
	Role      pairing.Role `json:"role"`
	State     string       `json:"state"`
	Partner   string       `json:"partner,omitempty"`
}

// handleListConnections returns every live connection, oldest first.
func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	var filter pairing.Role
	if raw := r.URL.Query().Get("role"); raw != "" {
		role, err := pairing.ParseRole(raw)
		if err != nil {
			writeInvalidRole(w, err)
			return
		}
		filter = role
	}

	conns := s.engine.Registry().List()
	views := make([]ConnectionView, 0, len(conns))
	for _, c := range conns {
		if filter != "" && c.Role != filter {
			continue
		}
		views = append(views, ConnectionView{
			ID:        c.ID,
			CreatedAt: c.CreatedAt.UnixMilli(),
			Role:      c.Role,
			State:     string(c.State()),
			Partner:   c.Partner,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"connections": views,
		"count":       len(views),
	})
}

// handleAvailability returns the payload controllers currently receive.
func (s *Server) handleAvailability(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"available": s.engine.Availability(),
	})
}
