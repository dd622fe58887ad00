package util

import (
	"reflect"
	"testing"
	"time"
)

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name  string
		value string
		set   bool
		want  time.Duration
	}{
		{name: "missing", want: 5 * time.Second},
		{name: "duration", value: "250ms", set: true, want: 250 * time.Millisecond},
		{name: "seconds", value: "90", set: true, want: 90 * time.Second},
		{name: "malformed", value: "soon", set: true, want: 5 * time.Second},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.set {
				t.Setenv("TEST_TIMEOUT", tc.value)
			}
			if got := GetEnvDuration("TEST_TIMEOUT", 5*time.Second); got != tc.want {
				t.Fatalf("GetEnvDuration() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("TEST_IDS", " kb-1, ,kb-2,")
	if got := GetEnvList("TEST_IDS"); !reflect.DeepEqual(got, []string{"kb-1", "kb-2"}) {
		t.Fatalf("GetEnvList() = %v", got)
	}
	if got := GetEnvList("TEST_IDS_MISSING"); got != nil {
		t.Fatalf("GetEnvList() = %v, want nil", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("TEST_PARALLEL", "6")
	if got := GetEnvInt("TEST_PARALLEL", 4); got != 6 {
		t.Fatalf("GetEnvInt() = %d", got)
	}
	t.Setenv("TEST_PARALLEL", "six")
	if got := GetEnvInt("TEST_PARALLEL", 4); got != 4 {
		t.Fatalf("GetEnvInt() = %d", got)
	}
}

func TestGetEnvStringEmptyFallsBack(t *testing.T) {
	t.Setenv("TEST_BACKEND", "")
	if got := GetEnvString("TEST_BACKEND", "remote"); got != "remote" {
		t.Fatalf("GetEnvString() = %q", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := map[string]bool{"true": true, "1": true, "false": false, "yes": true}
	for value, want := range tests {
		t.Setenv("TEST_FLAG", value)
		// "yes" is not a valid bool and keeps the default.
		if got := GetEnvBool("TEST_FLAG", true); got != want {
			t.Fatalf("GetEnvBool(%q) = %v, want %v", value, got, want)
		}
	}
}
