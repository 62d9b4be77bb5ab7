// Package filetype provides magic-byte MIME detection for uploaded files,
// grounded on the reference repo's internal/filetype/detector.go, trimmed
// to this system's single accepted type (spec.md §6's /validate_file only
// accepts PDF).
package filetype

import (
	"fmt"

	"github.com/gabriel-vasile/mimetype"
)

// Info is the detected file type.
type Info struct {
	MIMEType string
	IsPDF    bool
}

// Detector detects file type from content, never from filename/extension.
type Detector struct{}

// New returns a Detector.
func New() *Detector { return &Detector{} }

// DetectBytes classifies raw file content.
func (d *Detector) DetectBytes(content []byte) (Info, error) {
	mtype := mimetype.Detect(content)
	mimeType := mtype.String()
	for m := mtype; m != nil; m = m.Parent() {
		if m.Is("application/pdf") {
			return Info{MIMEType: mimeType, IsPDF: true}, nil
		}
	}
	return Info{MIMEType: mimeType, IsPDF: false}, nil
}

// DetectFile classifies a file on disk.
func (d *Detector) DetectFile(path string) (Info, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return Info{}, fmt.Errorf("failed to detect file type: %w", err)
	}
	mimeType := mtype.String()
	for m := mtype; m != nil; m = m.Parent() {
		if m.Is("application/pdf") {
			return Info{MIMEType: mimeType, IsPDF: true}, nil
		}
	}
	return Info{MIMEType: mimeType, IsPDF: false}, nil
}
