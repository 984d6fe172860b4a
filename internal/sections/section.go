package sections

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Section titles produced by the generator.
const (
	StringSectionTitle = "String Section"
	IntSectionTitle    = "Int Section"
)

// Section is a titled, ordered group of rows.
type Section struct {
	Title string
	Items []RowItem
}

// SectionList is the full ordered collection of sections shown at one time.
type SectionList []Section

// Labels returns the display label of every row in the section.
func (s Section) Labels() []string {
	labels := make([]string, len(s.Items))
	for i, item := range s.Items {
		labels[i] = item.Label()
	}
	return labels
}

// Titles returns the section titles in display order.
func (l SectionList) Titles() []string {
	titles := make([]string, len(l))
	for i, s := range l {
		titles[i] = s.Title
	}
	return titles
}

// Find returns the section with the given title.
func (l SectionList) Find(title string) (Section, bool) {
	for _, s := range l {
		if s.Title == title {
			return s, true
		}
	}
	return Section{}, false
}

// RowCount returns the total number of rows across all sections.
func (l SectionList) RowCount() int {
	n := 0
	for _, s := range l {
		n += len(s.Items)
	}
	return n
}

// CheckShape verifies the structure every generated list must have: one
// String Section holding each string row once and one Int Section holding
// each int row once, in any order.
func CheckShape(l SectionList) error {
	if len(l) != 2 {
		return fmt.Errorf("expected 2 sections, got %d", len(l))
	}
	str, ok := l.Find(StringSectionTitle)
	if !ok {
		return fmt.Errorf("missing %q", StringSectionTitle)
	}
	num, ok := l.Find(IntSectionTitle)
	if !ok {
		return fmt.Errorf("missing %q", IntSectionTitle)
	}

	want := make([]string, 0, 3)
	for _, r := range StringRows() {
		want = append(want, r.Label())
	}
	if err := samePermutation(str, KindString, want); err != nil {
		return err
	}

	want = want[:0]
	for _, r := range IntRows() {
		want = append(want, r.Label())
	}
	return samePermutation(num, KindInt, want)
}

func samePermutation(s Section, kind RowKind, want []string) error {
	got := make([]string, 0, len(s.Items))
	for _, item := range s.Items {
		if item.Kind() != kind {
			return fmt.Errorf("%s: unexpected %s row %q", s.Title, item.Kind(), item.Label())
		}
		got = append(got, item.Label())
	}
	slices.Sort(got)
	sorted := slices.Clone(want)
	slices.Sort(sorted)
	if !slices.Equal(got, sorted) {
		return fmt.Errorf("%s: items %v are not a permutation of %v", s.Title, got, want)
	}
	return nil
}

// wireRow and wireSection are the JSON and YAML forms of a section.
type wireRow struct {
	Kind  RowKind `json:"kind" yaml:"kind"`
	Label string  `json:"label" yaml:"label"`
}

type wireSection struct {
	Title string    `json:"title" yaml:"title"`
	Items []wireRow `json:"items" yaml:"items"`
}

func (s Section) toWire() wireSection {
	w := wireSection{Title: s.Title, Items: make([]wireRow, len(s.Items))}
	for i, item := range s.Items {
		w.Items[i] = wireRow{Kind: item.Kind(), Label: item.Label()}
	}
	return w
}

// MarshalJSON encodes the section with tagged rows.
func (s Section) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.toWire())
}

// UnmarshalJSON decodes tagged rows, rejecting values outside the enumerations.
func (s *Section) UnmarshalJSON(data []byte) error {
	var w wireSection
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	items := make([]RowItem, len(w.Items))
	for i, r := range w.Items {
		item, err := ParseRow(r.Kind, r.Label)
		if err != nil {
			return fmt.Errorf("section %q row %d: %w", w.Title, i, err)
		}
		items[i] = item
	}
	s.Title = w.Title
	s.Items = items
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (s Section) MarshalYAML() (any, error) {
	return s.toWire(), nil
}
