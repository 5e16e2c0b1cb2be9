package mgmt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/apron-network/apron-gateway-go/internal/catalogue"
	"github.com/apron-network/apron-gateway-go/internal/eventloop"
	"github.com/apron-network/apron-gateway-go/internal/forwarder"
	"github.com/apron-network/apron-gateway-go/internal/overlay"
	"github.com/apron-network/apron-gateway-go/internal/session"
	"github.com/apron-network/apron-gateway-go/pkg/auth"
)

func newTestAPI(t *testing.T) (*API, *catalogue.Store, *overlay.LoopbackMesh) {
	t.Helper()
	mesh := overlay.NewLoopbackMesh()
	self := mesh.Join("self")
	cat := catalogue.New()
	loop := eventloop.New(self, cat, session.New(), forwarder.New(1), nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go loop.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	return New(cat, loop, "self", nil), cat, mesh
}

func TestHandleServiceCreateStampsOwnerPeerOnFirstInsert(t *testing.T) {
	api, cat, _ := newTestAPI(t)

	body := strings.NewReader(`{"id":"svc-1","name":"widgets"}`)
	req := httptest.NewRequest(http.MethodPost, "/service", body)
	rr := httptest.NewRecorder()

	api.handleService(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	rec, ok := cat.Get("svc-1")
	if !ok {
		t.Fatal("expected svc-1 in catalogue")
	}
	if rec.OwnerPeer != "self" {
		t.Errorf("owner_peer = %q, want self", rec.OwnerPeer)
	}
}

func TestHandleServiceCreatePreservesExistingOwnerPeer(t *testing.T) {
	api, cat, _ := newTestAPI(t)
	cat.InsertOrUpdate(catalogue.ServiceRecord{ID: "svc-2", OwnerPeer: "other-peer"})

	body := strings.NewReader(`{"id":"svc-2","name":"renamed"}`)
	req := httptest.NewRequest(http.MethodPost, "/service", body)
	rr := httptest.NewRecorder()

	api.handleService(rr, req)

	rec, _ := cat.Get("svc-2")
	if rec.OwnerPeer != "other-peer" {
		t.Errorf("owner_peer = %q, want other-peer preserved", rec.OwnerPeer)
	}
	if rec.Name != "renamed" {
		t.Errorf("name = %q, want renamed", rec.Name)
	}
}

func TestHandleServiceGetReturnsSnapshot(t *testing.T) {
	api, cat, _ := newTestAPI(t)
	cat.InsertOrUpdate(catalogue.ServiceRecord{ID: "svc-3", OwnerPeer: "self"})

	req := httptest.NewRequest(http.MethodGet, "/service", nil)
	rr := httptest.NewRecorder()
	api.handleService(rr, req)

	var out map[string]catalogue.ServiceRecord
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if _, ok := out["svc-3"]; !ok {
		t.Fatalf("response = %v, want svc-3 present", out)
	}
}

func TestHandleServiceDeleteTombstonesRecord(t *testing.T) {
	api, cat, _ := newTestAPI(t)
	cat.InsertOrUpdate(catalogue.ServiceRecord{ID: "svc-4", OwnerPeer: "self"})

	req := httptest.NewRequest(http.MethodDelete, "/service?id=svc-4", nil)
	rr := httptest.NewRecorder()
	api.handleService(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
	if _, ok := cat.Get("svc-4"); ok {
		t.Fatal("expected svc-4 to be tombstoned")
	}
}

func TestHandleLocalAndRemoteFilterByOwner(t *testing.T) {
	api, cat, _ := newTestAPI(t)
	cat.InsertOrUpdate(catalogue.ServiceRecord{ID: "mine", OwnerPeer: "self"})
	cat.InsertOrUpdate(catalogue.ServiceRecord{ID: "theirs", OwnerPeer: "other"})

	localReq := httptest.NewRequest(http.MethodGet, "/local", nil)
	localRR := httptest.NewRecorder()
	api.handleLocal(localRR, localReq)
	var local map[string]catalogue.ServiceRecord
	json.Unmarshal(localRR.Body.Bytes(), &local)
	if _, ok := local["mine"]; !ok || len(local) != 1 {
		t.Errorf("local = %v, want only mine", local)
	}

	remoteReq := httptest.NewRequest(http.MethodGet, "/remote", nil)
	remoteRR := httptest.NewRecorder()
	api.handleRemote(remoteRR, remoteReq)
	var remote map[string]catalogue.ServiceRecord
	json.Unmarshal(remoteRR.Body.Bytes(), &remote)
	if _, ok := remote["theirs"]; !ok || len(remote) != 1 {
		t.Errorf("remote = %v, want only theirs", remote)
	}
}

func TestWithAuthRejectsMissingOrInvalidToken(t *testing.T) {
	mesh := overlay.NewLoopbackMesh()
	self := mesh.Join("self")
	cat := catalogue.New()
	loop := eventloop.New(self, cat, session.New(), forwarder.New(1), nil)
	verifier := auth.NewVerifier([]byte("secret"), "apron-gateway")
	api := New(cat, loop, "self", verifier)

	req := httptest.NewRequest(http.MethodGet, "/service", nil)
	rr := httptest.NewRecorder()
	api.withAuth(api.handleService)(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for missing token", rr.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/service", nil)
	req2.Header.Set("Authorization", "Bearer not-a-real-token")
	rr2 := httptest.NewRecorder()
	api.withAuth(api.handleService)(rr2, req2)
	if rr2.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for invalid token", rr2.Code)
	}
}

func TestWithAuthAcceptsValidToken(t *testing.T) {
	mesh := overlay.NewLoopbackMesh()
	self := mesh.Join("self")
	cat := catalogue.New()
	loop := eventloop.New(self, cat, session.New(), forwarder.New(1), nil)
	secret := []byte("secret")
	verifier := auth.NewVerifier(secret, "apron-gateway")
	signer := auth.NewSigner(secret, "apron-gateway", time.Minute)
	tok, err := signer.Sign(signer.Claims("admin", nil))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	api := New(cat, loop, "self", verifier)

	req := httptest.NewRequest(http.MethodGet, "/service", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rr := httptest.NewRecorder()
	api.withAuth(api.handleService)(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", rr.Code, rr.Body.String())
	}
}
