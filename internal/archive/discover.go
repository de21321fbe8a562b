// Package archive locates source archive files eligible for conversion.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Archive is one discovered source file. The set for a run is fixed at
// discovery time.
type Archive struct {
	// Path is the absolute path to the source file and identifies the
	// archive for the run.
	Path string

	// Rel is the slash-separated path relative to the scanned root,
	// recorded as source_pst on every row extracted from this archive.
	Rel string

	// Name keys the archive's output artifacts: the converted mbox file,
	// the attachment subtree, and the per-archive store. It is the file
	// stem, suffixed with "_N" when two discovered archives share one.
	Name string
}

// archiveExts lists recognized source extensions, compared
// case-insensitively.
var archiveExts = []string{".pst", ".ost"}

func hasArchiveExt(name string) bool {
	ext := filepath.Ext(name)
	for _, want := range archiveExts {
		if strings.EqualFold(ext, want) {
			return true
		}
	}
	return false
}

// Discover walks rootDir and returns every .pst/.ost file beneath it in
// path-sorted order. If rootDir itself is an archive file, just that one is
// returned. Unreadable subtrees are skipped.
func Discover(rootDir string) ([]Archive, error) {
	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("discover archives: abs path: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("discover archives: stat %q: %w", abs, err)
	}

	if !info.IsDir() {
		if !hasArchiveExt(abs) {
			return nil, fmt.Errorf("discover archives: %q is not a directory or archive file", abs)
		}
		return assignNames([]Archive{{Path: abs, Rel: filepath.Base(abs)}}), nil
	}

	var found []Archive
	err = filepath.WalkDir(abs, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if d.IsDir() || !hasArchiveExt(d.Name()) {
			return nil
		}
		rel, relErr := filepath.Rel(abs, path)
		if relErr != nil {
			rel = d.Name()
		}
		found = append(found, Archive{
			Path: path,
			Rel:  filepath.ToSlash(rel),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover archives: walk: %w", err)
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Path < found[j].Path })
	return assignNames(found), nil
}

// assignNames derives each archive's Name from its file stem. Stems collide
// when the walk finds same-named files in different directories, so later
// ones get a numeric suffix; lookup is case-insensitive because the output
// tree may live on a case-insensitive filesystem.
func assignNames(archives []Archive) []Archive {
	seen := make(map[string]bool, len(archives))
	for i := range archives {
		base := filepath.Base(archives[i].Path)
		stem := strings.TrimSuffix(base, filepath.Ext(base))

		name := stem
		for n := 2; seen[strings.ToLower(name)]; n++ {
			name = fmt.Sprintf("%s_%d", stem, n)
		}
		seen[strings.ToLower(name)] = true
		archives[i].Name = name
	}
	return archives
}
