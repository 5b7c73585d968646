package capture

import (
	"os"
	"path/filepath"
	"testing"
)

func TestArtifact_Release_RemovesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "item-1-abc.png")
	if err := os.WriteFile(path, []byte("png"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	a := &Artifact{ItemID: "item-1", Path: path}
	a.Release()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("file still exists after Release: %v", err)
	}

	// Second release is a no-op.
	a.Release()
}

func TestArtifact_Release_NilSafe(t *testing.T) {
	var a *Artifact
	a.Release()

	b := &Artifact{}
	b.Release()
}

func TestArtifact_Filename(t *testing.T) {
	a := &Artifact{ItemID: "item-1", Path: "/tmp/shots/item-1-xyz.png"}
	if got := a.Filename(); got != "item-1-xyz.png" {
		t.Errorf("Filename = %q", got)
	}
}

func TestRenderer_PageURL(t *testing.T) {
	r := NewRenderer("https://market.example.com/", t.TempDir())
	if got := r.pageURL("abc123"); got != "https://market.example.com/listings/items/abc123" {
		t.Errorf("pageURL = %q", got)
	}
}
