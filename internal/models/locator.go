package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// LocatorKind tags which variant of Locator is populated.
type LocatorKind int

const (
	LocatorNone LocatorKind = iota
	LocatorPage
	LocatorSheet
)

// Locator points at a position inside a document: a page number, a sheet
// name, or nothing at all. The zero value is the absent locator.
type Locator struct {
	Kind  LocatorKind
	Page  int
	Sheet string
}

func NoLocator() Locator { return Locator{} }

func Page(n int) Locator { return Locator{Kind: LocatorPage, Page: n} }

func Sheet(name string) Locator { return Locator{Kind: LocatorSheet, Sheet: name} }

// IsNone reports whether the locator is absent.
func (l Locator) IsNone() bool { return l.Kind == LocatorNone }

// String renders the locator the way evidence headers show it ("" when absent).
func (l Locator) String() string {
	switch l.Kind {
	case LocatorPage:
		return strconv.Itoa(l.Page)
	case LocatorSheet:
		return l.Sheet
	default:
		return ""
	}
}

// MarshalJSON writes a page as a number, a sheet as a string and an absent
// locator as null.
func (l Locator) MarshalJSON() ([]byte, error) {
	switch l.Kind {
	case LocatorPage:
		return []byte(strconv.Itoa(l.Page)), nil
	case LocatorSheet:
		return json.Marshal(l.Sheet)
	default:
		return []byte("null"), nil
	}
}

func (l *Locator) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = NoLocator()
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = Sheet(s)
		return nil
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return fmt.Errorf("locator must be an integer page, a sheet name or null: %w", err)
	}
	*l = Page(n)
	return nil
}

// ParseLocator builds a locator from user input: digits become a page, any
// other non-empty value a sheet name.
func ParseLocator(s string) Locator {
	if s == "" {
		return NoLocator()
	}
	if n, err := strconv.Atoi(s); err == nil {
		return Page(n)
	}
	return Sheet(s)
}
