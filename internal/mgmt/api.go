// internal/mgmt/api.go
// Management API (SPEC_FULL.md §4.10): REST CRUD over the Catalogue Store
// plus filtered read-only projections. Grounded on
// cortexuvula-clawreachbridge/internal/webui/api.go's method-switch
// handler + writeJSON helper shape, adapted from connection/status
// reporting to catalogue administration.
package mgmt

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/apron-network/apron-gateway-go/internal/catalogue"
	"github.com/apron-network/apron-gateway-go/internal/eventloop"
	"github.com/apron-network/apron-gateway-go/internal/logging"
	"github.com/apron-network/apron-gateway-go/pkg/auth"
)

// API is the Management API's HTTP handler set.
type API struct {
	catalogue *catalogue.Store
	loop      *eventloop.Loop
	selfPeer  string
	verifier  *auth.Verifier // nil disables bearer-token auth (spec.md non-goal: end-user auth; this is only the admin surface)
}

// New builds an API bound to cat and loop. verifier may be nil to leave
// the Management API open, matching --mgmt-auth-secret's default.
func New(cat *catalogue.Store, loop *eventloop.Loop, selfPeer string, verifier *auth.Verifier) *API {
	return &API{catalogue: cat, loop: loop, selfPeer: selfPeer, verifier: verifier}
}

// Register mounts the Management API's routes on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("/service", a.withAuth(a.handleService))
	mux.HandleFunc("/local", a.withAuth(a.handleLocal))
	mux.HandleFunc("/remote", a.withAuth(a.handleRemote))
	mux.HandleFunc("/peers", a.withAuth(a.handlePeers))
	mux.HandleFunc("/reports", a.withAuth(a.handleReports))
}

func (a *API) withAuth(next http.HandlerFunc) http.HandlerFunc {
	if a.verifier == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		tok := bearerToken(r)
		if tok == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if _, err := a.verifier.ParseAndVerify(tok); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

// handleService implements GET/POST/DELETE /service (spec.md §4.10).
func (a *API) handleService(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, a.catalogue.Snapshot())
	case http.MethodPost:
		a.handleServiceCreate(w, r)
	case http.MethodDelete:
		a.handleServiceDelete(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *API) handleServiceCreate(w http.ResponseWriter, r *http.Request) {
	var rec catalogue.ServiceRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if rec.ID == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	// spec.md §4.10: "server stamps owner_peer on first insert".
	if _, exists := a.catalogue.Get(rec.ID); !exists {
		rec.OwnerPeer = a.selfPeer
	}
	rec.UpdatedAt = time.Now()
	a.catalogue.InsertOrUpdate(rec)

	if err := a.loop.PublishServiceRecord(r.Context(), rec); err != nil {
		logging.Sugar().Warnw("mgmt: gossip publish failed", "service_id", rec.ID, "err", err)
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleServiceDelete(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "id query parameter is required", http.StatusBadRequest)
		return
	}
	a.catalogue.Delete(id)
	tombstone := catalogue.ServiceRecord{ID: id, Deleted: true, UpdatedAt: time.Now()}
	if err := a.loop.PublishServiceRecord(r.Context(), tombstone); err != nil {
		logging.Sugar().Warnw("mgmt: gossip publish of tombstone failed", "service_id", id, "err", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleLocal(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.catalogue.FilterByOwner(a.selfPeer))
}

func (a *API) handleRemote(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.catalogue.FilterOthers(a.selfPeer))
}

func (a *API) handlePeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.catalogue.Peers())
}

// handleReports is a placeholder projection over usage data; the usage
// ledger itself only exposes its accumulators internally (spec.md §9: the
// ledger's only external interface is the Contract Client batch call), so
// this endpoint reports what the catalogue currently knows about each
// service's owner for operators correlating usage reports with services.
func (a *API) handleReports(w http.ResponseWriter, r *http.Request) {
	snapshot := a.catalogue.Snapshot()
	out := make(map[string]string, len(snapshot))
	for id, rec := range snapshot {
		out[id] = rec.OwnerPeer
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
