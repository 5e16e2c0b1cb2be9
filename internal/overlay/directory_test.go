// internal/overlay/directory_test.go
package overlay

import "testing"

func TestPeerDirectoryResolve(t *testing.T) {
	d := NewPeerDirectory()

	if _, ok := d.Resolve("peer-a"); ok {
		t.Fatal("Resolve on empty directory should miss")
	}

	d.Set("peer-a", "10.0.0.1:7000")
	addr, ok := d.Resolve("peer-a")
	if !ok || addr != "10.0.0.1:7000" {
		t.Fatalf("Resolve(peer-a) = %q, %v, want 10.0.0.1:7000, true", addr, ok)
	}

	d.Set("peer-a", "10.0.0.2:7000")
	addr, ok = d.Resolve("peer-a")
	if !ok || addr != "10.0.0.2:7000" {
		t.Fatalf("Resolve(peer-a) after re-announce = %q, %v, want the newer address", addr, ok)
	}
}

func TestPeerDirectoryIgnoresEmptyEntries(t *testing.T) {
	d := NewPeerDirectory()
	d.Set("", "10.0.0.1:7000")
	d.Set("peer-a", "")
	if _, ok := d.Resolve("peer-a"); ok {
		t.Fatal("Set with an empty peer id or address must not register")
	}
}
