// internal/catalogue/record_test.go
package catalogue

import "testing"

func TestProviderTargetURLPrependsSchema(t *testing.T) {
	cases := []struct {
		name string
		p    Provider
		want string
	}{
		{"http example from spec scenarios", Provider{BaseURL: "httpbin.org/anything", Schema: SchemaHTTP}, "http://httpbin.org/anything"},
		{"ws example from spec scenarios", Provider{BaseURL: "localhost:9000/echo", Schema: SchemaWS}, "ws://localhost:9000/echo"},
		{"missing schema defaults to http", Provider{BaseURL: "example.com/api"}, "http://example.com/api"},
		{"already schemed base_url passes through", Provider{BaseURL: "https://example.com/api", Schema: SchemaHTTP}, "https://example.com/api"},
		{"empty base_url yields empty target", Provider{}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.p.TargetURL(); got != tc.want {
				t.Errorf("TargetURL() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSelectProviderMatchesRequestKind(t *testing.T) {
	rec := ServiceRecord{
		Providers: []Provider{
			{ID: "http-1", BaseURL: "httpbin.org/anything", Schema: SchemaHTTP},
			{ID: "ws-1", BaseURL: "localhost:9000/echo", Schema: SchemaWS},
		},
	}

	p, ok := rec.SelectProvider(false)
	if !ok || p.ID != "http-1" {
		t.Fatalf("SelectProvider(false) = %+v, ok=%v, want http-1", p, ok)
	}

	p, ok = rec.SelectProvider(true)
	if !ok || p.ID != "ws-1" {
		t.Fatalf("SelectProvider(true) = %+v, ok=%v, want ws-1", p, ok)
	}
}

func TestSelectProviderFallsBackWhenNoMatchingSchema(t *testing.T) {
	rec := ServiceRecord{
		Providers: []Provider{{ID: "http-only", BaseURL: "httpbin.org/anything", Schema: SchemaHTTP}},
	}

	p, ok := rec.SelectProvider(true)
	if !ok || p.ID != "http-only" {
		t.Fatalf("SelectProvider(true) = %+v, ok=%v, want fallback to http-only", p, ok)
	}
}

func TestSelectProviderEmptyReturnsFalse(t *testing.T) {
	rec := ServiceRecord{}
	if _, ok := rec.SelectProvider(false); ok {
		t.Fatal("SelectProvider on empty record should return ok=false")
	}
}
