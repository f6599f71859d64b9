package textutil

import "testing"

func TestSanitizeFileName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"clip.mkv", "clip.mkv"},
		{"  spaced name.bin ", "spaced name.bin"},
		{"a/b\\c:d", "a-b-c-d"},
		{`what?.mkv`, "what.mkv"},
		{`<angle>|"quote"`, "anglequote"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := SanitizeFileName(tc.in); got != tc.want {
			t.Fatalf("SanitizeFileName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
