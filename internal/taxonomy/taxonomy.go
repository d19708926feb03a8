// Package taxonomy holds the label sets for the three-stage cascade and the
// ordered mapping from stage-2 fault groups to stage-3 fine-grained labels.
package taxonomy

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// GroupFaults pairs one stage-2 group with its ordered stage-3 fault labels.
// Kept as a slice entry rather than a map value so group order is explicit;
// multi-head logit slicing depends on it.
type GroupFaults struct {
	Group  string
	Faults []string
}

// Span is the half-open logit range [Start, End) owned by one group in a
// multi-head output vector.
type Span struct {
	Group  string
	Start  int
	End    int
	Faults []string
}

// Taxonomy is immutable after construction and shared read-only across
// requests.
type Taxonomy struct {
	Stage1  []string      // binary labels; index 0 is the healthy class
	Groups  []string      // stage-2 anomaly groups
	Faults  []string      // stage-3 fine-grained fault labels
	Mapping []GroupFaults // ordered group → faults mapping
}

// HealthyLabel returns the stage-1 negative class. By convention it is the
// first stage-1 label.
func (t *Taxonomy) HealthyLabel() string { return t.Stage1[0] }

// FaultsFor returns the fault labels allowed for the given group.
func (t *Taxonomy) FaultsFor(group string) ([]string, bool) {
	for _, gf := range t.Mapping {
		if gf.Group == group {
			return gf.Faults, true
		}
	}
	return nil, false
}

// FaultIndex returns the position of a fault label in the full stage-3 set.
func (t *Taxonomy) FaultIndex(fault string) (int, bool) {
	for i, f := range t.Faults {
		if f == fault {
			return i, true
		}
	}
	return 0, false
}

// Spans computes the cumulative logit ranges for the multi-head stage-3
// output, in mapping order.
func (t *Taxonomy) Spans() []Span {
	spans := make([]Span, 0, len(t.Mapping))
	start := 0
	for _, gf := range t.Mapping {
		end := start + len(gf.Faults)
		spans = append(spans, Span{Group: gf.Group, Start: start, End: end, Faults: gf.Faults})
		start = end
	}
	return spans
}

// Validate checks the structural invariants the pipeline depends on:
// two stage-1 labels, mapping keys matching the stage-2 groups in order, and
// the concatenated fault lists partitioning the stage-3 set exactly.
func (t *Taxonomy) Validate() error {
	var errs []string

	if len(t.Stage1) != 2 {
		errs = append(errs, fmt.Sprintf("stage1 must have exactly 2 labels, got %d", len(t.Stage1)))
	}
	if len(t.Groups) == 0 {
		errs = append(errs, "stage2 groups are empty")
	}
	if len(t.Faults) == 0 {
		errs = append(errs, "stage3 faults are empty")
	}

	if len(t.Mapping) != len(t.Groups) {
		errs = append(errs, fmt.Sprintf("mapping has %d groups, stage2 has %d", len(t.Mapping), len(t.Groups)))
	} else {
		for i, gf := range t.Mapping {
			if gf.Group != t.Groups[i] {
				errs = append(errs, fmt.Sprintf("mapping group %d is %q, stage2 group is %q", i, gf.Group, t.Groups[i]))
			}
		}
	}

	// The concatenation of mapped faults, in mapping order, must equal the
	// full stage-3 label set exactly once each.
	var concat []string
	for _, gf := range t.Mapping {
		if len(gf.Faults) == 0 {
			errs = append(errs, fmt.Sprintf("group %q maps to no faults", gf.Group))
		}
		concat = append(concat, gf.Faults...)
	}
	if len(concat) != len(t.Faults) {
		errs = append(errs, fmt.Sprintf("mapping covers %d faults, stage3 has %d", len(concat), len(t.Faults)))
	} else {
		for i, f := range concat {
			if f != t.Faults[i] {
				errs = append(errs, fmt.Sprintf("mapped fault %d is %q, stage3 label is %q", i, f, t.Faults[i]))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("taxonomy: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ParseLabels splits a comma-separated label list, trimming whitespace and
// NFC-normalizing each entry so operator-supplied overrides compare reliably
// against mapping keys.
func ParseLabels(s string) []string {
	var labels []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		labels = append(labels, norm.NFC.String(part))
	}
	return labels
}

// ParseMapping parses a "Group:f1|f2;Group2:f3" override string into an
// ordered mapping.
func ParseMapping(s string) ([]GroupFaults, error) {
	var mapping []GroupFaults
	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		group, faults, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, fmt.Errorf("taxonomy: mapping entry %q missing ':'", entry)
		}
		group = norm.NFC.String(strings.TrimSpace(group))
		if group == "" {
			return nil, fmt.Errorf("taxonomy: mapping entry %q has empty group", entry)
		}
		gf := GroupFaults{Group: group}
		for _, f := range strings.Split(faults, "|") {
			f = strings.TrimSpace(f)
			if f == "" {
				continue
			}
			gf.Faults = append(gf.Faults, norm.NFC.String(f))
		}
		mapping = append(mapping, gf)
	}
	if len(mapping) == 0 {
		return nil, fmt.Errorf("taxonomy: mapping string %q has no entries", s)
	}
	return mapping, nil
}
