package render

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/html"

	"github.com/abhisek/apgen/internal/problemgen"
)

// unavailableMarker is the failure text older renders used.
const unavailableMarker = "Visual stimulus unavailable"

// JunkDir is the quarantine directory name under the output root.
const JunkDir = "junk"

// HasFailedImages reports whether the page contains a stimulus-error
// element carrying an image failure marker.
func HasFailedImages(r io.Reader) (bool, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return false, fmt.Errorf("parse html: %w", err)
	}
	return findFailure(doc), nil
}

func findFailure(n *html.Node) bool {
	if n.Type == html.ElementNode && n.Data == "div" && hasClass(n, "stimulus-error") {
		text := nodeText(n)
		if strings.Contains(text, problemgen.ImageFailedMarker) || strings.Contains(text, unavailableMarker) {
			return true
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if findFailure(c) {
			return true
		}
	}
	return false
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key == "class" {
			for _, c := range strings.Fields(a.Val) {
				if c == class {
					return true
				}
			}
		}
	}
	return false
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// QuarantineReport lists the files moved by Quarantine.
type QuarantineReport struct {
	// Moved maps course id to kind to the number of files moved.
	Moved map[string]map[problemgen.Kind]int

	// Paths are the new locations, relative to the output root.
	Paths []string

	// Errors holds files that could not be read or moved.
	Errors []error
}

// Total is the number of moved files.
func (q QuarantineReport) Total() int {
	n := 0
	for _, kinds := range q.Moved {
		for _, c := range kinds {
			n += c
		}
	}
	return n
}

// Quarantine scans {out}/{course}/{mcq,frq}/*.html and moves every page
// with a failed image to {out}/junk/{course}/{kind}/ so the set can be
// regenerated.
func Quarantine(outDir string) (QuarantineReport, error) {
	rep := QuarantineReport{Moved: make(map[string]map[problemgen.Kind]int)}

	courses, err := os.ReadDir(outDir)
	if err != nil {
		return rep, fmt.Errorf("read output dir: %w", err)
	}

	for _, c := range courses {
		if !c.IsDir() || c.Name() == "images" || c.Name() == JunkDir {
			continue
		}
		for _, kind := range []problemgen.Kind{problemgen.KindChoice, problemgen.KindMultiPart} {
			pages, _ := filepath.Glob(filepath.Join(outDir, c.Name(), string(kind), "*.html"))
			sort.Strings(pages)
			for _, src := range pages {
				failed, err := pageHasFailedImages(src)
				if err != nil {
					rep.Errors = append(rep.Errors, err)
					continue
				}
				if !failed {
					continue
				}

				dst := filepath.Join(outDir, JunkDir, c.Name(), string(kind), filepath.Base(src))
				if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
					rep.Errors = append(rep.Errors, err)
					continue
				}
				if err := os.Rename(src, dst); err != nil {
					rep.Errors = append(rep.Errors, fmt.Errorf("move %s: %w", src, err))
					continue
				}

				if rep.Moved[c.Name()] == nil {
					rep.Moved[c.Name()] = make(map[problemgen.Kind]int)
				}
				rep.Moved[c.Name()][kind]++
				rel, _ := filepath.Rel(outDir, dst)
				rep.Paths = append(rep.Paths, rel)
			}
		}
	}
	return rep, nil
}

func pageHasFailedImages(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	failed, err := HasFailedImages(f)
	if err != nil {
		return false, fmt.Errorf("%s: %w", path, err)
	}
	return failed, nil
}

var (
	legacyUnit = regexp.MustCompile(`unit_(\d+)`)
	legacySet  = regexp.MustCompile(`^set_(\d+)\.html$`)
)

// MigrationReport lists the outcome of MigrateLegacy.
type MigrationReport struct {
	Renamed     []string // new paths
	Skipped     []string // targets that already existed
	RemovedDirs int
	Errors      []error
}

// MigrateLegacy flattens the old nested layout
// {dir}/unit_X/<anything>/set_Y.html into {dir}/unitX-setY.html and
// removes directories left empty. Existing targets are never replaced.
func MigrateLegacy(dir string) (MigrationReport, error) {
	var rep MigrationReport
	if _, err := os.Stat(dir); err != nil {
		return rep, fmt.Errorf("stat %s: %w", dir, err)
	}

	var legacy []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && legacySet.MatchString(d.Name()) {
			legacy = append(legacy, path)
		}
		return nil
	})
	if err != nil {
		return rep, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(legacy)

	for _, old := range legacy {
		rel, _ := filepath.Rel(dir, old)
		um := legacyUnit.FindStringSubmatch(filepath.ToSlash(rel))
		sm := legacySet.FindStringSubmatch(filepath.Base(old))
		if um == nil || sm == nil {
			rep.Errors = append(rep.Errors, fmt.Errorf("could not extract unit/set from %s", old))
			continue
		}

		target := filepath.Join(dir, fmt.Sprintf("unit%s-set%s.html", um[1], sm[1]))
		if _, err := os.Stat(target); err == nil {
			rep.Skipped = append(rep.Skipped, target)
			continue
		} else if !errors.Is(err, os.ErrNotExist) {
			rep.Errors = append(rep.Errors, err)
			continue
		}
		if err := os.Rename(old, target); err != nil {
			rep.Errors = append(rep.Errors, fmt.Errorf("rename %s: %w", old, err))
			continue
		}
		rep.Renamed = append(rep.Renamed, target)
	}

	rep.RemovedDirs = removeEmptyDirs(dir)
	return rep, nil
}

// removeEmptyDirs deletes empty directories below root, deepest first.
func removeEmptyDirs(root string) int {
	var dirs []string
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err == nil && d.IsDir() && path != root {
			dirs = append(dirs, path)
		}
		return nil
	})

	removed := 0
	for i := len(dirs) - 1; i >= 0; i-- {
		entries, err := os.ReadDir(dirs[i])
		if err != nil || len(entries) > 0 {
			continue
		}
		if os.Remove(dirs[i]) == nil {
			removed++
		}
	}
	return removed
}
