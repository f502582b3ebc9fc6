package healthcheck

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/RemiFigea/parkwatch/internal/state"
)

// Namer resolves a facility id to a display name.
type Namer interface {
	Name(id string) string
}

// FacilityState is one row of the /state response.
type FacilityState struct {
	FacilityID      string `json:"facility_id"`
	Name            string `json:"name,omitempty"`
	IsClosed        bool   `json:"is_closed"`
	AvailableSpaces *int   `json:"available_spaces"`
}

// HealthHandler serves /healthz responses.
func HealthHandler(tracker *Tracker, pollInterval time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusServiceUnavailable
		if tracker.Healthy(time.Now().UTC(), pollInterval) {
			status = http.StatusOK
		}
		writeJSON(w, status, tracker.Snapshot())
	}
}

// ReadyHandler serves /readyz responses.
func ReadyHandler(tracker *Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusServiceUnavailable
		if tracker.Ready() {
			status = http.StatusOK
		}
		writeJSON(w, status, tracker.Snapshot())
	}
}

// StateHandler serves /state with the published state table, ordered by facility id.
// namer may be nil.
func StateHandler(tracker *Tracker, namer Namer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		entries := tracker.State()
		rows := make([]FacilityState, 0, len(entries))
		for _, id := range sortedKeys(entries) {
			entry := entries[id]
			row := FacilityState{
				FacilityID:      id,
				IsClosed:        entry.IsClosed,
				AvailableSpaces: entry.AvailableSpaces,
			}
			if namer != nil {
				if name := namer.Name(id); name != id {
					row.Name = name
				}
			}
			rows = append(rows, row)
		}
		writeJSON(w, http.StatusOK, rows)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func sortedKeys(entries map[string]state.Entry) []string {
	keys := make([]string, 0, len(entries))
	for id := range entries {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	return keys
}
