package template

import (
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/computor-org/computor/pkg/meta"
	"github.com/computor-org/computor/pkg/testhelper"
)

func keys(t Tree) []string {
	out := make([]string, 0, len(t))
	for k := range t {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestBuildStudentTreeWithDescriptor(t *testing.T) {
	source := Tree{
		"meta.yaml":                  []byte("slug: demo"),
		"content/index.md":           []byte("# Assignment"),
		"content/index_de.md":        []byte("# Aufgabe"),
		"content/hints/extra.md":     []byte("hint"),
		"studentTemplate/main.py":    []byte("def main(): ..."),
		"solution/main.py":           []byte("def main(): return 42"),
		"data/input.csv":             []byte("1,2,3"),
		"test_main.py":               []byte("assert main()"),
		"helpers/util.py":            []byte("UTIL"),
	}
	m := &meta.Meta{
		Slug: "demo",
		Properties: meta.Properties{
			StudentTemplates:       []string{"studentTemplate/main.py"},
			StudentSubmissionFiles: []string{"main.py", "src/util.py"},
			AdditionalFiles:        []string{"data/input.csv"},
			TestFiles:              []string{"test_main.py"},
		},
	}

	target, err := BuildStudentTree(source, m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"README.md", "README_de.md", "hints/extra.md", "input.csv", "main.py", "src/util.py"}
	if diff := cmp.Diff(expected, keys(target)); diff != "" {
		t.Fatalf("unexpected file set: %s", diff)
	}
	if string(target["README.md"]) != "# Assignment" {
		t.Errorf("index.md was not renamed with content: %q", target["README.md"])
	}
	if string(target["main.py"]) != "def main(): ..." {
		t.Errorf("submission file should carry the template content, got %q", target["main.py"])
	}
	// No template matches util.py's basename inside studentTemplates.
	if len(target["src/util.py"]) != 0 {
		t.Errorf("unmatched submission file should be empty, got %q", target["src/util.py"])
	}
}

func TestBuildStudentTreePrefersTemplatePaths(t *testing.T) {
	source := Tree{
		"content/index.md":        []byte("x"),
		"main.py":                 []byte("solution"),
		"studentTemplate/main.py": []byte("skeleton"),
	}
	m := &meta.Meta{
		Slug: "demo",
		Properties: meta.Properties{
			// The template list names a path that is not in the tree, so
			// resolution falls back to basename search.
			StudentTemplates:       []string{"templates/main.py"},
			StudentSubmissionFiles: []string{"main.py"},
		},
	}

	target, err := BuildStudentTree(source, m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(target["main.py"]) != "skeleton" {
		t.Errorf("expected the studentTemplate path to win, got %q", target["main.py"])
	}
}

func TestBuildStudentTreeWithoutDescriptor(t *testing.T) {
	source := Tree{
		"meta.yaml":    []byte("slug: demo"),
		"main.py":      []byte("code"),
		"test_main.py": []byte("tests"),
		"testdata.csv": []byte("fixtures"),
		"main_test.py": []byte("more tests"),
		"docs/use.md":  []byte("docs"),
	}

	target, err := BuildStudentTree(source, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []string{"docs/use.md", "main.py"}
	if diff := cmp.Diff(expected, keys(target)); diff != "" {
		t.Errorf("unexpected file set: %s", diff)
	}
}

func TestBuildStudentTreeRejectsEmptySource(t *testing.T) {
	if _, err := BuildStudentTree(Tree{}, nil); err == nil {
		t.Error("expected an error for an empty tree")
	}
}

func TestBuildStudentTreeDeterministic(t *testing.T) {
	source := Tree{
		"content/index.md":        []byte("x"),
		"studentTemplate/main.py": []byte("skeleton"),
		"other/main.py":           []byte("other"),
	}
	m := &meta.Meta{
		Slug: "demo",
		Properties: meta.Properties{
			StudentTemplates:       []string{"main.py"},
			StudentSubmissionFiles: []string{"main.py"},
		},
	}
	first, err := BuildStudentTree(source, m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := BuildStudentTree(source, m)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("output is not deterministic: %s", diff)
		}
	}
}

func TestRenderRootReadme(t *testing.T) {
	entries := []ReleasedContent{
		{Path: "week2.exercise1", DeploymentPath: "week2/exercise1", Title: "Recursion", VersionTag: "v1.1"},
		{Path: "week1.intro", DeploymentPath: "week1/intro", Title: "Introduction", VersionTag: "v1.0"},
	}
	titles := map[string]string{
		"week1":       "Week 1",
		"week1.intro": "Introduction",
		"week2":       "Week 2",
	}

	readme := string(RenderRootReadme("Programming 101", entries, titles))
	if !strings.HasPrefix(readme, "# Programming 101") {
		t.Errorf("missing course heading: %q", readme)
	}
	// Entries are ordered by path.
	week1 := strings.Index(readme, "Week 1 / Introduction")
	week2 := strings.Index(readme, "Week 2 / exercise1")
	if week1 == -1 || week2 == -1 || week1 > week2 {
		t.Errorf("unexpected table ordering or titles:\n%s", readme)
	}
}

func TestTitlePathFallsBackToSegments(t *testing.T) {
	got := TitlePath("a.b.c", map[string]string{"a": "Alpha"})
	if got != "Alpha / b / c" {
		t.Errorf("unexpected title path: %q", got)
	}
}

func TestRenderRootReadmeEmpty(t *testing.T) {
	readme := string(RenderRootReadme("Course", nil, nil))
	if !strings.Contains(readme, "No assignments") {
		t.Errorf("expected placeholder text, got %q", readme)
	}
}

func TestRenderRootReadmeGolden(t *testing.T) {
	entries := []ReleasedContent{
		{Path: "week2.exercise1", DeploymentPath: "week2/exercise1", Title: "Recursion", VersionTag: "v1.1"},
		{Path: "week1.intro", DeploymentPath: "week1/intro", Title: "Introduction", VersionTag: "v1.0"},
	}
	titles := map[string]string{
		"week1":       "Week 1",
		"week1.intro": "Introduction",
		"week2":       "Week 2",
	}
	testhelper.CompareWithFixture(t, RenderRootReadme("Programming 101", entries, titles), testhelper.WithExtension("md"))
}
