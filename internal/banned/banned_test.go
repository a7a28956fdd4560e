package banned

import "testing"

func TestIsBannedSubstringIsCaseInsensitive(t *testing.T) {
	if !IsBanned("sudo RM -RF / --no-preserve-root", []string{"rm -rf /"}) {
		t.Fatalf("expected substring pattern to match regardless of case")
	}
	if IsBanned("rm -rf ./build", []string{"rm -rf /"}) {
		t.Fatalf("did not expect relative path to match")
	}
}

func TestIsBannedRegexPattern(t *testing.T) {
	patterns := []string{`/rm\s+-rf\s+\//`}
	if !IsBanned("RM   -rf   /", patterns) {
		t.Fatalf("expected regex with default i flag to match")
	}
	if IsBanned("rm -rf build", patterns) {
		t.Fatalf("did not expect regex to match")
	}
}

func TestIsBannedRegexExplicitFlags(t *testing.T) {
	if IsBanned("DROP TABLE users", []string{`/drop table/g`}) {
		t.Fatalf("expected explicit flags without i to be case-sensitive")
	}
	if !IsBanned("DROP TABLE users", []string{`/drop table/gi`}) {
		t.Fatalf("expected gi flags to match case-insensitively")
	}
}

func TestMalformedRegexFallsBackToSubstring(t *testing.T) {
	pattern := "/[unclosed/"
	if !IsBanned("echo /[UNCLOSED/ now", []string{pattern}) {
		t.Fatalf("expected malformed regex to be tested as substring")
	}
	if IsBanned("echo unclosed", []string{pattern}) {
		t.Fatalf("did not expect regex semantics for malformed pattern")
	}

	compiled := Compile([]string{pattern})
	if len(compiled) != 1 || compiled[0].IsRegex() {
		t.Fatalf("compiled = %+v, want one substring pattern", compiled)
	}
}

func TestUnknownFlagFallsBackToSubstring(t *testing.T) {
	if !IsBanned("run /abc/q here", []string{"/abc/q"}) {
		t.Fatalf("expected unknown flag to fall back to substring")
	}
}

func TestEmptyInputs(t *testing.T) {
	if IsBanned("", DefaultPatterns) {
		t.Fatalf("empty text must not match")
	}
	if IsBanned("rm -rf /", nil) {
		t.Fatalf("empty list must not match")
	}
	if IsBanned("anything", []string{"", "   "}) {
		t.Fatalf("blank patterns must be skipped")
	}
}

func TestMatchReturnsFirstPattern(t *testing.T) {
	got, ok := Match("dd if=/dev/zero of=/dev/sda", DefaultPatterns)
	if !ok {
		t.Fatalf("expected default patterns to match")
	}
	if got != "dd if=" {
		t.Fatalf("pattern = %q, want %q", got, "dd if=")
	}
}

func TestDefaultPatterns(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{text: "format c:", want: true},
		{text: ":(){:|:&};:", want: true},
		{text: "mkfs.ext4 /dev/sdb1", want: true},
		{text: "chmod -r 777 /", want: true},
		{text: "go test ./...", want: false},
		{text: "ls -la", want: false},
	}
	for _, tc := range cases {
		if got := IsBanned(tc.text, DefaultPatterns); got != tc.want {
			t.Fatalf("IsBanned(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}
