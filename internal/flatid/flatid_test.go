package flatid

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"  ab12  ", "AB12"},
		{"a1", "A1"},
		{"A1", "A1"},
		{"\tb2\n", "B2"},
		{"", ""},
		{"   ", ""},
	}

	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeEqualKeys(t *testing.T) {
	// Two spellings of the same flat must map to the same key.
	if Normalize(" a1") != Normalize("A1 ") {
		t.Fatal("expected equal canonical forms")
	}
}
