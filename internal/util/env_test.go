package util

import "testing"

func TestParseBoolEnv(t *testing.T) {
	cases := []struct {
		value string
		def   bool
		want  bool
	}{
		{"true", false, true},
		{"1", false, true},
		{"YES", false, true},
		{"on", false, true},
		{"false", true, false},
		{"0", true, false},
		{"no", true, false},
		{"OFF", true, false},
		{"", true, true},
		{"", false, false},
		{"maybe", true, true},
		{"maybe", false, false},
	}
	for _, c := range cases {
		t.Setenv("FOLLOWPIPE_TEST_BOOL", c.value)
		if got := ParseBoolEnv("FOLLOWPIPE_TEST_BOOL", c.def); got != c.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", c.value, c.def, got, c.want)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	cases := []struct {
		value string
		def   int
		want  int
	}{
		{"42", 0, 42},
		{" 7 ", 0, 7},
		{"", 5, 5},
		{"abc", 5, 5},
		{"-3", 0, -3},
	}
	for _, c := range cases {
		t.Setenv("FOLLOWPIPE_TEST_INT", c.value)
		if got := ParseIntEnv("FOLLOWPIPE_TEST_INT", c.def); got != c.want {
			t.Errorf("ParseIntEnv(%q, %d) = %d, want %d", c.value, c.def, got, c.want)
		}
	}
}
