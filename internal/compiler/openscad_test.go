// internal/compiler/openscad_test.go
package compiler

import "testing"

func TestParseDiagnostics(t *testing.T) {
	diagnostics := `Compiling design (CSG Products normalization)...
Geometries in cache: 2
Vertices: 8
Facets: 12
Total rendering time: 0:00:00.123
`
	aux := parseDiagnostics(diagnostics)
	if aux == nil {
		t.Fatal("expected parsed aux data")
	}
	if aux["Vertices"] != "8" {
		t.Errorf("expected Vertices=8, got %q", aux["Vertices"])
	}
	if aux["Facets"] != "12" {
		t.Errorf("expected Facets=12, got %q", aux["Facets"])
	}
	if aux["Geometries in cache"] != "2" {
		t.Errorf("expected cache count 2, got %q", aux["Geometries in cache"])
	}
}

func TestParseDiagnostics_Empty(t *testing.T) {
	if aux := parseDiagnostics("nothing relevant here"); aux != nil {
		t.Errorf("expected nil aux for unrecognized output, got %v", aux)
	}
}

func TestCountWarnings(t *testing.T) {
	diagnostics := `WARNING: variable x not specified
Compiling...
WARNING: deprecated syntax
ERROR: something else
`
	if got := CountWarnings(diagnostics); got != 2 {
		t.Errorf("expected 2 warnings, got %d", got)
	}
}
