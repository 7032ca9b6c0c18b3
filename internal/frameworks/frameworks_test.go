package frameworks

import (
	"slices"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"net472":                       "net472",
		"NET45":                        "net45",
		"net403":                       "net403",
		"netstandard2.0":               "netstandard2.0",
		"netcoreapp3.1":                "netcoreapp3.1",
		"net8.0":                       "net8.0",
		"net8.0-windows":               "net8.0",
		".NETFramework4.7.2":           "net472",
		".NETFramework,Version=v4.6.1": "net461",
		".NETStandard2.0":              "netstandard2.0",
		".NETCoreApp,Version=v3.1":     "netcoreapp3.1",
		".NETCoreApp5.0":               "net5.0",
		"Portable-Profile259":          "portable-profile259",
		"uap10.0":                      "uap10.0",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCompatibleIsReflexive(t *testing.T) {
	for _, f := range known {
		m := f.Moniker()
		set := Compatible(m)
		if len(set) == 0 || set[0] != m {
			t.Fatalf("%s must be compatible with itself, got %v", m, set)
		}
	}
}

func TestCompatibleSets(t *testing.T) {
	cases := []struct {
		target   string
		includes []string
		excludes []string
	}{
		{
			target:   "netstandard2.0",
			includes: []string{"netstandard1.0", "netstandard1.6"},
			excludes: []string{"netstandard2.1", "net461", "netcoreapp2.0"},
		},
		{
			target:   "netcoreapp2.1",
			includes: []string{"netcoreapp1.0", "netcoreapp2.0", "netstandard2.0"},
			excludes: []string{"netstandard2.1", "netcoreapp3.0", "net5.0"},
		},
		{
			target:   "net8.0",
			includes: []string{"net5.0", "net6.0", "netcoreapp3.1", "netstandard2.1"},
			excludes: []string{"net9.0", "net472"},
		},
		{
			target:   "net472",
			includes: []string{"net45", "net471", "netstandard2.0", "netstandard1.3"},
			excludes: []string{"net48", "netstandard2.1", "netcoreapp2.0"},
		},
		{
			target:   "net40",
			includes: []string{"net35", "net20"},
			excludes: []string{"netstandard1.0"},
		},
		{
			target:   "net10.0",
			includes: []string{"net9.0", "netstandard2.0"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.target, func(t *testing.T) {
			set := Compatible(tc.target)
			for _, m := range tc.includes {
				if !slices.Contains(set, m) {
					t.Fatalf("%s should accept %s; set=%v", tc.target, m, set)
				}
			}
			for _, m := range tc.excludes {
				if slices.Contains(set, m) {
					t.Fatalf("%s should not accept %s; set=%v", tc.target, m, set)
				}
			}
		})
	}
}

func TestCompatibleUnknownIsSingleton(t *testing.T) {
	for _, raw := range []string{"tizen40", "", "monoandroid10"} {
		set := Compatible(raw)
		if len(set) != 1 || set[0] != raw {
			t.Fatalf("unknown moniker %q should resolve to itself, got %v", raw, set)
		}
	}
}
