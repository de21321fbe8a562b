// Package extract writes message attachments into a per-archive directory
// tree and returns the on-disk references recorded alongside each email row.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pstvault/pstvault/internal/fileutil"
	"github.com/pstvault/pstvault/internal/mailmsg"
)

// Ref points at one extracted attachment file.
type Ref struct {
	Filename    string // final on-disk name, unique within the archive subtree
	ContentType string
}

// Extractor writes attachments for a single archive under <root>/<name>/.
// Every archive gets its own Extractor, so worker subtrees are disjoint and
// need no locking. Names are tracked per run; a re-run of the same archive
// regenerates the same names and replaces the previous files.
type Extractor struct {
	dir       string
	usedNames map[string]int
}

// New returns an Extractor rooted at <root>/<archiveName>/. The directory is
// created on first write, so archives without attachments leave nothing
// behind.
func New(root, archiveName string) *Extractor {
	return &Extractor{
		dir:       filepath.Join(root, archiveName),
		usedNames: make(map[string]int),
	}
}

// Dir returns the archive's attachment directory.
func (e *Extractor) Dir() string { return e.dir }

// Extract writes the attachment parts of one message, msgIndex being the
// message's position in its mbox. Filenames are prefixed with msgIndex and
// disambiguated with a numeric suffix on collision; an existing file is
// replaced only when it was not written during this run.
func (e *Extractor) Extract(msgIndex int, parts []mailmsg.Attachment) ([]Ref, error) {
	if len(parts) == 0 {
		return nil, nil
	}
	if err := fileutil.SecureMkdirAll(e.dir, 0o700); err != nil {
		return nil, fmt.Errorf("create attachments dir: %w", err)
	}
	refs := make([]Ref, 0, len(parts))
	for _, part := range parts {
		name := e.uniqueName(msgIndex, part.Filename)
		if err := writeFile(filepath.Join(e.dir, name), part.Content); err != nil {
			return nil, fmt.Errorf("write attachment %s: %w", name, err)
		}
		refs = append(refs, Ref{Filename: name, ContentType: part.ContentType})
	}
	return refs, nil
}

func (e *Extractor) uniqueName(msgIndex int, original string) string {
	base := SanitizeFilename(filepath.Base(original))
	if base == "" || base == "." || base == ".." {
		base = "attachment"
	}
	name := fmt.Sprintf("%d_%s", msgIndex, base)

	key := strings.ToLower(name)
	if count, exists := e.usedNames[key]; exists {
		ext := filepath.Ext(name)
		stem := name[:len(name)-len(ext)]
		e.usedNames[key] = count + 1
		return fmt.Sprintf("%s_%d%s", stem, count+1, ext)
	}
	e.usedNames[key] = 1
	return name
}

// writeFile writes content to a staging name and renames it into place, so a
// failed write never leaves a partial file at the final path.
func writeFile(path string, content []byte) error {
	staging := path + ".partial"
	f, err := fileutil.SecureOpenFile(staging, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	cleanup := true
	defer func() {
		if cleanup {
			f.Close()
			os.Remove(staging)
		}
	}()

	if _, err := f.Write(content); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	// os.Rename does not replace an existing file on Windows.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Rename(staging, path); err != nil {
		return err
	}
	cleanup = false
	return nil
}

// SanitizeFilename replaces characters that are invalid in filenames.
func SanitizeFilename(s string) string {
	var result []rune
	for _, r := range s {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', '\n', '\r', '\t':
			result = append(result, '_')
		default:
			result = append(result, r)
		}
	}
	return string(result)
}
