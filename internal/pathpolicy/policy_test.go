package pathpolicy

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestEmptyPolicyAllowsEverything(t *testing.T) {
	p, err := New(nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.Restricted() {
		t.Fatal("empty policy should not be restricted")
	}
	if err := p.CheckInput("/etc/passwd"); err != nil {
		t.Fatalf("CheckInput() error = %v, want nil", err)
	}
}

func TestCheckInput(t *testing.T) {
	allowed := t.TempDir()
	other := t.TempDir()

	p, err := New([]string{allowed})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	inside := filepath.Join(allowed, "clip.mp4")
	if err := os.WriteFile(inside, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := p.CheckInput(inside); err != nil {
		t.Errorf("CheckInput(inside) error = %v", err)
	}

	outside := filepath.Join(other, "clip.mp4")
	if err := p.CheckInput(outside); !errors.Is(err, ErrOutsideAllowed) {
		t.Errorf("CheckInput(outside) error = %v, want ErrOutsideAllowed", err)
	}

	sneaky := filepath.Join(allowed, "..", filepath.Base(other), "clip.mp4")
	if err := p.CheckInput(sneaky); err == nil {
		t.Error("CheckInput(traversal) expected error")
	}
}

func TestCheckInput_SymlinkEscape(t *testing.T) {
	allowed := t.TempDir()
	other := t.TempDir()
	target := filepath.Join(other, "secret.mp4")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(allowed, "link.mp4")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	p, err := New([]string{allowed})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := p.CheckInput(link); !errors.Is(err, ErrOutsideAllowed) {
		t.Errorf("CheckInput(symlink) error = %v, want ErrOutsideAllowed", err)
	}
}

func TestCheckOutput(t *testing.T) {
	allowed := t.TempDir()
	p, err := New([]string{allowed})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{"inside", filepath.Join(allowed, "out.mp4"), nil},
		{"root itself", allowed, nil},
		{"traversal", allowed + "/../out.mp4", ErrTraversal},
		{"outside", filepath.Join(os.TempDir(), "elsewhere-out.mp4"), ErrOutsideAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.CheckOutput(tt.path)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("CheckOutput(%q) error = %v", tt.path, err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("CheckOutput(%q) error = %v, want %v", tt.path, err, tt.wantErr)
			}
		})
	}

	if err := p.CheckOutput(""); err == nil {
		t.Error("CheckOutput(\"\") expected error")
	}
}
