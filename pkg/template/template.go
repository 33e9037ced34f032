// Package template derives the student-visible file tree of an assignment
// from the full example tree. The transformation is pure: given the same
// source tree and descriptor it produces byte-identical output, which is
// what makes template releases reproducible.
package template

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/computor-org/computor/pkg/api"
	"github.com/computor-org/computor/pkg/meta"
)

// Tree maps repository-relative file paths to contents.
type Tree map[string][]byte

var indexLangPattern = regexp.MustCompile(`^index_([a-zA-Z-]+)\.md$`)

// BuildStudentTree filters an example tree down to what a student may see.
//
// With a descriptor: files under content/ move to the target root (index.md
// becomes README.md, index_<lang>.md becomes README_<lang>.md), files from
// additionalFiles land at the root under their basename, and every
// studentSubmissionFiles entry is created, seeded from a matching
// studentTemplates file or empty.
//
// Without a descriptor the whole tree is copied except meta.yaml and
// anything that looks like a test file.
func BuildStudentTree(source Tree, m *meta.Meta) (Tree, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("example tree is empty")
	}
	if m == nil {
		return copyWithoutTests(source), nil
	}

	target := Tree{}
	for file, data := range source {
		if !strings.HasPrefix(file, "content/") {
			continue
		}
		rel := strings.TrimPrefix(file, "content/")
		base := path.Base(rel)
		dir := path.Dir(rel)
		switch {
		case rel == "index.md":
			target["README.md"] = data
		case dir == "." && indexLangPattern.MatchString(base):
			lang := indexLangPattern.FindStringSubmatch(base)[1]
			target["README_"+lang+".md"] = data
		default:
			target[rel] = data
		}
	}

	for _, file := range m.Properties.AdditionalFiles {
		data, ok := source[file]
		if !ok {
			continue
		}
		target[path.Base(file)] = data
	}

	for _, submission := range m.Properties.StudentSubmissionFiles {
		target[submission] = templateContent(source, m.Properties.StudentTemplates, path.Base(submission))
	}

	return target, nil
}

// templateContent finds the template seeding a submission file. Templates
// are matched by basename; the file is located in the tree by exact path
// first, then by basename with paths containing "studentTemplate"
// preferred.
func templateContent(source Tree, templates []string, basename string) []byte {
	for _, tmpl := range templates {
		if path.Base(tmpl) != basename {
			continue
		}
		if data, ok := source[tmpl]; ok {
			return data
		}
		if data, ok := findByBasename(source, basename); ok {
			return data
		}
	}
	return []byte{}
}

func findByBasename(source Tree, basename string) ([]byte, bool) {
	var candidates []string
	for file := range source {
		if path.Base(file) == basename {
			candidates = append(candidates, file)
		}
	}
	if len(candidates) == 0 {
		return nil, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		iTmpl := strings.Contains(candidates[i], "studentTemplate")
		jTmpl := strings.Contains(candidates[j], "studentTemplate")
		if iTmpl != jTmpl {
			return iTmpl
		}
		return candidates[i] < candidates[j]
	})
	return source[candidates[0]], true
}

func copyWithoutTests(source Tree) Tree {
	target := Tree{}
	for file, data := range source {
		base := path.Base(file)
		if base == meta.Filename {
			continue
		}
		if strings.HasPrefix(base, "test") {
			continue
		}
		if isTestSuffixed(base) {
			continue
		}
		target[file] = data
	}
	return target
}

// isTestSuffixed matches names like main_test.py.
func isTestSuffixed(name string) bool {
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	return strings.HasSuffix(stem, "_test")
}

// ReleasedContent is one row of the root README table.
type ReleasedContent struct {
	// Path is the content's position in the course tree.
	Path api.Path
	// DeploymentPath is the directory inside the student template.
	DeploymentPath api.Path
	Title          string
	VersionTag     string
}

// RenderRootReadme produces the student template's root README.md: a table
// of all released assignments. The title path walks the content's tree
// segments and joins each ancestor's title, falling back to the raw
// segment when no title is known.
func RenderRootReadme(courseTitle string, entries []ReleasedContent, titlesByPath map[string]string) []byte {
	var b strings.Builder
	b.WriteString("# " + courseTitle + "\n\n")
	if len(entries) == 0 {
		b.WriteString("No assignments have been released yet.\n")
		return []byte(b.String())
	}

	sorted := make([]ReleasedContent, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	b.WriteString("| Assignment | Directory | Title | Version |\n")
	b.WriteString("|---|---|---|---|\n")
	for _, e := range sorted {
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
			TitlePath(e.Path, titlesByPath), e.DeploymentPath, e.Title, e.VersionTag)
	}
	return []byte(b.String())
}

// TitlePath renders an ltree path as a human-readable breadcrumb.
func TitlePath(contentPath api.Path, titlesByPath map[string]string) string {
	segments := contentPath.Segments()
	parts := make([]string, 0, len(segments))
	var prefix string
	for _, segment := range segments {
		if prefix == "" {
			prefix = segment
		} else {
			prefix = prefix + "." + segment
		}
		if title, ok := titlesByPath[prefix]; ok && title != "" {
			parts = append(parts, title)
		} else {
			parts = append(parts, segment)
		}
	}
	return strings.Join(parts, " / ")
}
