package utils

import "testing"

func TestGetEnvAsBool(t *testing.T) {
	cases := []struct {
		raw  string
		def  bool
		want bool
	}{
		{"true", false, true},
		{"1", false, true},
		{"YES", false, true},
		{"on", false, true},
		{"false", true, false},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
		{"maybe", false, false},
	}
	for _, tc := range cases {
		t.Setenv("TEST_BOOL_FLAG", tc.raw)
		if got := GetEnvAsBool("TEST_BOOL_FLAG", tc.def, nil); got != tc.want {
			t.Fatalf("GetEnvAsBool(%q, %v) = %v, want %v", tc.raw, tc.def, got, tc.want)
		}
	}
}

func TestGetEnvAsBool_UnsetUsesDefault(t *testing.T) {
	if got := GetEnvAsBool("TEST_BOOL_FLAG_UNSET", true, nil); !got {
		t.Fatal("unset variable should fall back to the default")
	}
}
