package engine

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/arborstack/arbor-fdr/internal/evaluate"
)

func writeProfiles(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write profiles: %v", err)
	}
	return path
}

func TestLoadProfiles(t *testing.T) {
	path := writeProfiles(t, `profiles:
  - name: default
    alpha: 0.05
    mode: single
  - name: screen
    alpha: 0.1
    mode: multiple
    grid: [0, 0.25, 0.5, 0.75, 1]
`)

	set, err := LoadProfiles(path, discardLogger())
	if err != nil {
		t.Fatalf("LoadProfiles returned error: %v", err)
	}
	if set == nil {
		t.Fatalf("expected a profile set")
	}

	params, ok := set.Resolve("screen")
	if !ok {
		t.Fatalf("screen profile did not resolve")
	}
	if params.Alpha != 0.1 || params.Mode != evaluate.ModeMultiple {
		t.Fatalf("screen params = %+v", params)
	}
	if !reflect.DeepEqual(params.Grid, []float64{0, 0.25, 0.5, 0.75, 1}) {
		t.Fatalf("screen grid = %v", params.Grid)
	}

	if _, ok := set.Resolve("unknown"); ok {
		t.Fatalf("unknown profile resolved")
	}
	if got := set.Names(); !reflect.DeepEqual(got, []string{"default", "screen"}) {
		t.Fatalf("Names = %v", got)
	}
}

func TestLoadProfilesNoFile(t *testing.T) {
	set, err := LoadProfiles("", nil)
	if err != nil || set != nil {
		t.Fatalf("empty path: set = %v, err = %v, want nil and nil", set, err)
	}
	set, err = LoadProfiles(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	if err != nil || set != nil {
		t.Fatalf("missing file: set = %v, err = %v, want nil and nil", set, err)
	}
	if _, ok := set.Resolve("default"); ok {
		t.Fatalf("nil set resolved a profile")
	}
}

func TestLoadProfilesRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing name", "profiles:\n  - alpha: 0.05\n    mode: single\n"},
		{"duplicate name", "profiles:\n  - name: a\n    mode: single\n  - name: a\n    mode: single\n"},
		{"unknown mode", "profiles:\n  - name: a\n    mode: both\n"},
		{"alpha out of range", "profiles:\n  - name: a\n    alpha: 1.5\n    mode: single\n"},
		{"malformed yaml", "profiles: [\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := LoadProfiles(writeProfiles(t, tc.body), nil); err == nil {
				t.Fatalf("LoadProfiles accepted %s", tc.name)
			}
		})
	}
}
