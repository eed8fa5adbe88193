package tools

import "testing"

func TestGrantStore_GrantAndCheck(t *testing.T) {
	s, err := NewGrantStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewGrantStore: %v", err)
	}

	if s.IsApproved("exec") {
		t.Error("expected exec to start unapproved")
	}
	if err := s.Grant("exec"); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if !s.IsApproved("exec") {
		t.Error("expected exec to be approved after grant")
	}
}

func TestGrantStore_GrantIdempotent(t *testing.T) {
	s, err := NewGrantStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewGrantStore: %v", err)
	}
	if err := s.Grant("exec"); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if err := s.Grant("exec"); err != nil {
		t.Fatalf("second Grant: %v", err)
	}
	if !s.IsApproved("exec") {
		t.Error("expected exec still approved")
	}
}

func TestGrantStore_Revoke(t *testing.T) {
	s, err := NewGrantStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewGrantStore: %v", err)
	}
	_ = s.Grant("exec")
	if err := s.Revoke("exec"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if s.IsApproved("exec") {
		t.Error("expected exec to be unapproved after revoke")
	}
}

func TestGrantStore_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	s1, err := NewGrantStore(dir)
	if err != nil {
		t.Fatalf("NewGrantStore: %v", err)
	}
	_ = s1.Grant("exec")

	s2, err := NewGrantStore(dir)
	if err != nil {
		t.Fatalf("NewGrantStore (reload): %v", err)
	}
	if !s2.IsApproved("exec") {
		t.Error("expected grant to persist across instances")
	}
}
