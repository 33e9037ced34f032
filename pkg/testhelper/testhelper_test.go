package testhelper

import (
	"testing"
)

func TestSanitizeFilename(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want string
	}{
		{"TestSimple", "zz_fixture_TestSimple"},
		{"TestWith/Subtest", "zz_fixture_TestWith_Subtest"},
		{"Test with spaces!!", "zz_fixture_Test_with_spaces_"},
		{"Test.dotted_name42", "zz_fixture_Test.dotted_name42"},
	} {
		if got := sanitizeFilename(tc.in); got != tc.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCompareWithFixture(t *testing.T) {
	CompareWithFixture(t, map[string]string{"a": "b"})
}

func TestCompareWithFixtureString(t *testing.T) {
	CompareWithFixture(t, "plain text\n", WithExtension("txt"))
}
