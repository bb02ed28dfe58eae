package fed

import (
	"testing"

	"github.com/perchlabs/perch/internal/apierr"
)

func TestRegistry_AddRejectsDuplicateAddress(t *testing.T) {
	r := NewRegistry()
	if err := r.Add("http://192.0.2.1:7171", "tok"); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	err := r.Add("http://192.0.2.1:7171", "tok")
	if !apierr.HasCode(err, "server_already_registered") {
		t.Errorf("duplicate Add = %v, want server_already_registered", err)
	}
}

func TestRegistry_SetHostnameRejectsCollision(t *testing.T) {
	r := NewRegistry()
	r.Add("http://192.0.2.1:7171", "")
	r.Add("http://192.0.2.2:7171", "")

	if err := r.SetHostname("http://192.0.2.1:7171", "peer"); err != nil {
		t.Fatalf("SetHostname: %v", err)
	}
	err := r.SetHostname("http://192.0.2.2:7171", "peer")
	if !apierr.HasCode(err, "server_already_registered") {
		t.Errorf("colliding hostname = %v, want server_already_registered", err)
	}
	// Re-asserting the same hostname on the same backend is fine.
	if err := r.SetHostname("http://192.0.2.1:7171", "peer"); err != nil {
		t.Errorf("same-backend SetHostname = %v, want nil", err)
	}
}

func TestRegistry_LookupAndRemove(t *testing.T) {
	r := NewRegistry()
	r.Add("http://192.0.2.1:7171", "secret")
	r.SetHostname("http://192.0.2.1:7171", "peer")
	r.SetHealth("http://192.0.2.1:7171", HealthHealthy)

	b, ok := r.ByHostname("peer")
	if !ok {
		t.Fatal("ByHostname found nothing")
	}
	if b.Health != HealthHealthy || b.Token != "secret" {
		t.Errorf("backend = %+v, want healthy with token", b)
	}

	addr, ok := r.RemoveByHostname("peer")
	if !ok || addr != "http://192.0.2.1:7171" {
		t.Errorf("RemoveByHostname = %q, %v", addr, ok)
	}
	if _, ok := r.ByHostname("peer"); ok {
		t.Error("backend still present after removal")
	}
}

func TestRegistry_ListSortedByAddress(t *testing.T) {
	r := NewRegistry()
	r.Add("http://192.0.2.9:7171", "")
	r.Add("http://192.0.2.1:7171", "")

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("list len = %d, want 2", len(list))
	}
	if list[0].Address != "http://192.0.2.1:7171" {
		t.Errorf("list[0] = %s, want the lower address", list[0].Address)
	}
}
