package ir

import (
	"errors"
	"testing"
)

func TestCheckVersion(t *testing.T) {
	cases := []struct {
		version, lo, hi string
		ok              bool
	}{
		{"", "", "", true},
		{"1.0.0", "", "", true},
		{"1.4.2", "", "", true},
		{"0.9.0", "", "", false},
		{"2.0.0", "", "", false},
		{"1.2.0", "1.3.0", "1.x", false},
		{"1.2.0", "1.0.0", "1.2.0", true},
	}
	for _, tc := range cases {
		err := CheckVersion(tc.version, tc.lo, tc.hi)
		if tc.ok && err != nil {
			t.Errorf("CheckVersion(%q, %q, %q) = %v", tc.version, tc.lo, tc.hi, err)
		}
		if !tc.ok && !errors.Is(err, ErrVersionUnsupported) {
			t.Errorf("CheckVersion(%q, %q, %q) = %v, want ErrVersionUnsupported", tc.version, tc.lo, tc.hi, err)
		}
	}
}

func TestCheckVersionRejectsGarbage(t *testing.T) {
	if err := CheckVersion("not-a-version", "", ""); !errors.Is(err, ErrVersionUnsupported) {
		t.Fatalf("expected ErrVersionUnsupported, got %v", err)
	}
}
