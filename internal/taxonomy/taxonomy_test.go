package taxonomy

import (
	"strings"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	tax := Default()
	if err := tax.Validate(); err != nil {
		t.Fatalf("default taxonomy should validate, got: %v", err)
	}
	if tax.HealthyLabel() != "Healthy" {
		t.Errorf("expected healthy label 'Healthy', got %q", tax.HealthyLabel())
	}
	if len(tax.Stage1) != 2 || len(tax.Groups) != 4 || len(tax.Faults) != 11 {
		t.Errorf("unexpected label counts: %d/%d/%d", len(tax.Stage1), len(tax.Groups), len(tax.Faults))
	}
}

func TestValidate_MappingMustPartitionFaults(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Taxonomy)
		want   string
	}{
		{
			"missing fault",
			func(tax *Taxonomy) { tax.Mapping[0].Faults = tax.Mapping[0].Faults[:1] },
			"covers 10 faults",
		},
		{
			"reordered faults",
			func(tax *Taxonomy) {
				tax.Mapping[0].Faults = []string{"Hot-Spot", "Hot-Spot-Multi"}
			},
			"mapped fault 0",
		},
		{
			"duplicated fault",
			func(tax *Taxonomy) {
				tax.Mapping[1].Faults = []string{"Soiling", "Soiling", "Shadowing"}
			},
			"mapped fault",
		},
		{
			"group order mismatch",
			func(tax *Taxonomy) {
				tax.Groups[0], tax.Groups[1] = tax.Groups[1], tax.Groups[0]
			},
			"mapping group 0",
		},
		{
			"wrong stage1 count",
			func(tax *Taxonomy) { tax.Stage1 = []string{"Healthy"} },
			"exactly 2 labels",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tax := Default()
			tt.mutate(tax)
			err := tax.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error to mention %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestSpans(t *testing.T) {
	tax := &Taxonomy{
		Stage1: []string{"Healthy", "Anomalous"},
		Groups: []string{"A", "B"},
		Faults: []string{"x", "y", "z"},
		Mapping: []GroupFaults{
			{Group: "A", Faults: []string{"x", "y"}},
			{Group: "B", Faults: []string{"z"}},
		},
	}
	if err := tax.Validate(); err != nil {
		t.Fatalf("taxonomy should validate: %v", err)
	}

	spans := tax.Spans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Start != 0 || spans[0].End != 2 {
		t.Errorf("span A: expected [0,2), got [%d,%d)", spans[0].Start, spans[0].End)
	}
	if spans[1].Start != 2 || spans[1].End != 3 {
		t.Errorf("span B: expected [2,3), got [%d,%d)", spans[1].Start, spans[1].End)
	}
	if spans[1].Group != "B" || len(spans[1].Faults) != 1 || spans[1].Faults[0] != "z" {
		t.Errorf("span B carries wrong labels: %+v", spans[1])
	}
}

func TestFaultsFor(t *testing.T) {
	tax := Default()

	faults, ok := tax.FaultsFor("Obstruction")
	if !ok {
		t.Fatal("expected Obstruction to be mapped")
	}
	if len(faults) != 3 || faults[0] != "Soiling" {
		t.Errorf("unexpected Obstruction faults: %v", faults)
	}

	if _, ok := tax.FaultsFor("Nonexistent"); ok {
		t.Error("expected unmapped group to report !ok")
	}
}

func TestParseLabels(t *testing.T) {
	got := ParseLabels(" Healthy , Anomalous ,, ")
	if len(got) != 2 || got[0] != "Healthy" || got[1] != "Anomalous" {
		t.Errorf("unexpected labels: %v", got)
	}

	// Decomposed "e" + combining acute must normalize to the composed form.
	got = ParseLabels("Ce\u0301lula")
	if len(got) != 1 || got[0] != "C\u00e9lula" {
		t.Errorf("expected NFC-normalized label, got %q", got[0])
	}
}

func TestParseMapping(t *testing.T) {
	mapping, err := ParseMapping("A:x|y; B:z")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mapping) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(mapping))
	}
	if mapping[0].Group != "A" || len(mapping[0].Faults) != 2 {
		t.Errorf("unexpected first group: %+v", mapping[0])
	}
	if mapping[1].Group != "B" || mapping[1].Faults[0] != "z" {
		t.Errorf("unexpected second group: %+v", mapping[1])
	}

	if _, err := ParseMapping("no-colon-here"); err == nil {
		t.Error("expected error for entry without ':'")
	}
	if _, err := ParseMapping("  "); err == nil {
		t.Error("expected error for empty mapping")
	}
}
