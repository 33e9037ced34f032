package config

import (
	"strings"
	"testing"
)

const validDoc = `
organizations:
  - path: uni
    title: University
    gitlab:
      url: https://gitlab.example.com
      parent_id: 42
    course_families:
      - path: prog
        title: Programming
        courses:
          - path: prog1_2026
            title: Programming 1
            content_types:
              - slug: assignment
                kind: assignment
            groups:
              - title: Group A
users:
  - username: alice
    email: alice@example.com
    roles: [_admin]
  - username: bob
    email: bob@example.com
    course_members:
      - course: uni.prog.prog1_2026
        role: _student
        group: Group A
execution_backends:
  - slug: python-3.12
    type: python
`

func TestParseValidDocument(t *testing.T) {
	d, err := Parse([]byte(validDoc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(d.Organizations) != 1 || len(d.Users) != 2 {
		t.Fatalf("unexpected document: %+v", d)
	}
	org, family, course, err := d.FindCourse("uni.prog.prog1_2026")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if org.Path != "uni" || family.Path != "prog" || course.Title != "Programming 1" {
		t.Errorf("resolved wrong sections: %v %v %v", org.Path, family.Path, course.Path)
	}
}

func TestParseRejectsMissingOrganizations(t *testing.T) {
	if _, err := Parse([]byte("users: []\n")); err == nil {
		t.Error("expected an error for a document without organizations")
	}
}

func TestParseRejectsBadPaths(t *testing.T) {
	doc := strings.Replace(validDoc, "path: uni", "path: Uni-One", 1)
	if _, err := Parse([]byte(doc)); err == nil {
		t.Error("expected an error for an invalid organization path")
	}
}

func TestParseRejectsShallowMembershipPath(t *testing.T) {
	doc := strings.Replace(validDoc, "course: uni.prog.prog1_2026", "course: prog1_2026", 1)
	if _, err := Parse([]byte(doc)); err == nil {
		t.Error("expected an error for a one-level course path")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	if _, err := Parse([]byte(validDoc + "unknown_key: true\n")); err == nil {
		t.Error("expected strict parsing to reject unknown fields")
	}
}

func TestFindCourseUnknown(t *testing.T) {
	d, err := Parse([]byte(validDoc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, _, err := d.FindCourse("uni.prog.other"); err == nil {
		t.Error("expected an error for an undeclared course")
	}
}
