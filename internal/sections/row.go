// Package sections defines the section view-models and the generator that
// produces a freshly shuffled SectionList on every trigger.
package sections

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrInvalidRow is returned when a raw value falls outside a row enumeration.
var ErrInvalidRow = errors.New("invalid row value")

// RowKind identifies which enumeration a row belongs to.
type RowKind string

const (
	KindString RowKind = "string"
	KindInt    RowKind = "int"
)

// RowItem is one displayable row. The interface is sealed: StringRow and
// IntRow are the only implementations.
type RowItem interface {
	// Label is the text shown for the row.
	Label() string
	// Kind reports the row's enumeration.
	Kind() RowKind

	rowItem()
}

// StringRow is one of the string labels first, second or third.
type StringRow string

const (
	StringFirst  StringRow = "first"
	StringSecond StringRow = "second"
	StringThird  StringRow = "third"
)

// StringRows returns every StringRow in declaration order.
func StringRows() []StringRow {
	return []StringRow{StringFirst, StringSecond, StringThird}
}

// ParseStringRow converts a raw label into a StringRow.
func ParseStringRow(s string) (StringRow, error) {
	for _, r := range StringRows() {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: string row %q", ErrInvalidRow, s)
}

func (r StringRow) Label() string { return string(r) }
func (StringRow) Kind() RowKind   { return KindString }
func (StringRow) rowItem()        {}

// IntRow is one of the integer labels 1, 2 or 3.
type IntRow int

const (
	IntFirst  IntRow = 1
	IntSecond IntRow = 2
	IntThird  IntRow = 3
)

// IntRows returns every IntRow in declaration order.
func IntRows() []IntRow {
	return []IntRow{IntFirst, IntSecond, IntThird}
}

// ParseIntRow converts a raw integer into an IntRow.
func ParseIntRow(n int) (IntRow, error) {
	for _, r := range IntRows() {
		if int(r) == n {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: int row %d", ErrInvalidRow, n)
}

// Label renders the integer as decimal text.
func (r IntRow) Label() string { return strconv.Itoa(int(r)) }
func (IntRow) Kind() RowKind   { return KindInt }
func (IntRow) rowItem()        {}

// ParseRow rebuilds a RowItem from its kind and label.
func ParseRow(kind RowKind, label string) (RowItem, error) {
	switch kind {
	case KindString:
		r, err := ParseStringRow(label)
		if err != nil {
			return nil, err
		}
		return r, nil
	case KindInt:
		n, err := strconv.Atoi(label)
		if err != nil {
			return nil, fmt.Errorf("%w: int row %q", ErrInvalidRow, label)
		}
		r, err := ParseIntRow(n)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidRow, kind)
	}
}
