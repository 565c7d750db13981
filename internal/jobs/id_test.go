package jobs

import "testing"

func TestGenerateID(t *testing.T) {
	a := GenerateID(SessionPrefix)
	b := GenerateID(SessionPrefix)
	if a == b {
		t.Fatal("IDs should be unique")
	}
	if !Valid(a, SessionPrefix) {
		t.Errorf("Valid(%q) = false", a)
	}
	if Valid(a, RenderPrefix) {
		t.Errorf("Valid(%q, %q) = true", a, RenderPrefix)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", ""},
		{"abc", "render-abc"},
		{"render-abc", "render-abc"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in, RenderPrefix); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidRejectsBadHex(t *testing.T) {
	if Valid("ws-zz"+"000000000000000000000000000000", SessionPrefix) {
		t.Error("non-hex id accepted")
	}
	if Valid("ws-abc", SessionPrefix) {
		t.Error("short id accepted")
	}
}
