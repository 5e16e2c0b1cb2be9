package listener

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/apron-network/apron-gateway-go/internal/catalogue"
	"github.com/apron-network/apron-gateway-go/internal/codec"
	"github.com/apron-network/apron-gateway-go/internal/overlay"
	"github.com/apron-network/apron-gateway-go/internal/session"
)

func TestHandleHTTPUnknownServiceReturns404(t *testing.T) {
	mesh := overlay.NewLoopbackMesh()
	csg := mesh.Join("csg")

	l := New("", csg, catalogue.New(), session.New(), false)

	req := httptest.NewRequest(http.MethodGet, "/v1/alice/unknown/path", nil)
	req.SetPathValue("ver", "1")
	req.SetPathValue("user_key", "alice")
	req.SetPathValue("path", "unknown/path")
	rr := httptest.NewRecorder()

	l.handleHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestHandleHTTPDeliversResponse(t *testing.T) {
	mesh := overlay.NewLoopbackMesh()
	csg := mesh.Join("csg")
	ssg := mesh.Join("ssg")

	cat := catalogue.New()
	cat.InsertOrUpdate(catalogue.ServiceRecord{ID: "alice", OwnerPeer: "ssg"})

	sessions := session.New()
	l := New("", csg, cat, sessions, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// csg's own handler plays the role of the event loop delivering tag-3
	// HttpResult Exchange calls into the Session Registry.
	if err := csg.Start(ctx, func(ctx context.Context, peer string, req []byte) ([]byte, error) {
		tag, raw, err := codec.Decode(req)
		if err != nil || tag != codec.TagHttpResult {
			return nil, err
		}
		var resp codec.HttpProxyResponse
		if err := codec.Unmarshal(raw, &resp); err != nil {
			return nil, err
		}
		if ch, ok := sessions.LookupCSG(resp.RequestID); ok {
			ch <- session.Delivery{Response: &resp}
		}
		return nil, nil
	}); err != nil {
		t.Fatalf("csg.Start: %v", err)
	}

	if err := ssg.Start(ctx, func(ctx context.Context, peer string, req []byte) ([]byte, error) {
		tag, raw, err := codec.Decode(req)
		if err != nil || tag != codec.TagInitRequest {
			return nil, err
		}
		var info codec.ProxyRequestInfo
		if err := codec.Unmarshal(raw, &info); err != nil {
			return nil, err
		}
		go func() {
			resp := codec.HttpProxyResponse{RequestID: info.RequestID, StatusCode: http.StatusOK, Body: []byte("ok")}
			framed, _ := codec.Encode(codec.TagHttpResult, resp)
			ssg.Exchange(ctx, "csg", framed)
		}()
		return nil, nil
	}); err != nil {
		t.Fatalf("ssg.Start: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/alice/x", nil)
	req.SetPathValue("ver", "1")
	req.SetPathValue("user_key", "alice")
	req.SetPathValue("path", "x")
	rr := httptest.NewRecorder()

	l.handleHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	body, _ := io.ReadAll(rr.Result().Body)
	if string(body) != "ok" {
		t.Fatalf("body = %q, want ok", body)
	}
}
