package capture

import (
	"log"
	"os"
	"path/filepath"
)

// Artifact is a captured listing screenshot on disk. Callers must
// Release it after the delivery attempt, regardless of outcome.
type Artifact struct {
	ItemID string
	Path   string
}

// Filename returns the base name used to reference the image from an
// embed ("attachment://<filename>").
func (a *Artifact) Filename() string {
	return filepath.Base(a.Path)
}

// Release deletes the image file. Safe to call more than once.
func (a *Artifact) Release() {
	if a == nil || a.Path == "" {
		return
	}
	if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		log.Printf("capture: release %s: %v", a.Path, err)
	}
	a.Path = ""
}
