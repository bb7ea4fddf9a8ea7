package opteryx

import (
	"strings"
	"testing"
)

func TestFormatMorselBasic(t *testing.T) {
	m := buildTestMorsel(t)
	cfg := DefaultDisplayConfig()
	out := FormatMorsel(m, cfg)

	if out == "" {
		t.Fatal("FormatMorsel returned empty string")
	}
	if want := "shape: (3, 4)"; !strings.Contains(out, want) {
		t.Errorf("output missing %q:\n%s", want, out)
	}
	if !strings.Contains(out, "alice") || !strings.Contains(out, "carol") {
		t.Errorf("output missing expected cell values:\n%s", out)
	}
	if !strings.Contains(out, "null") {
		t.Errorf("output should render the missing name/f64 cell as null:\n%s", out)
	}
}

func TestFormatMorselEmpty(t *testing.T) {
	schema, err := NewSchema([]Field{{Name: "a", DType: Int64}})
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	m, err := NewMorsel(schema, []*Column{NewColumnI64("a", nil)}, 0)
	if err != nil {
		t.Fatalf("NewMorsel: %v", err)
	}
	out := FormatMorsel(m, DefaultDisplayConfig())
	if out != "Morsel(empty)" {
		t.Errorf("FormatMorsel(empty) = %q, want %q", out, "Morsel(empty)")
	}
}

func TestFormatMorselRowTruncation(t *testing.T) {
	n := 50
	data := make([]int64, n)
	for i := range data {
		data[i] = int64(i)
	}
	schema, err := NewSchema([]Field{{Name: "n", DType: Int64}})
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	m, err := NewMorsel(schema, []*Column{NewColumnI64("n", data)}, n)
	if err != nil {
		t.Fatalf("NewMorsel: %v", err)
	}

	cfg := DefaultDisplayConfig()
	cfg.MaxRows = 6
	out := FormatMorsel(m, cfg)
	if !strings.Contains(out, "…") {
		t.Errorf("expected an ellipsis row marker when rows exceed MaxRows:\n%s", out)
	}
}

func TestSetTableStyleRejectsUnknown(t *testing.T) {
	orig := GetDisplayConfig()
	defer SetDisplayConfig(orig)

	SetTableStyle("rounded")
	SetTableStyle("not-a-real-style")
	if GetDisplayConfig().TableStyle != "rounded" {
		t.Errorf("unknown style should be rejected, got %q", GetDisplayConfig().TableStyle)
	}
}

