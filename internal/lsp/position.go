package lsp

// ComparePositions returns -1 if a < b, 0 if a == b, 1 if a > b.
func ComparePositions(a, b Position) int {
	switch {
	case a.Line < b.Line:
		return -1
	case a.Line > b.Line:
		return 1
	case a.Character < b.Character:
		return -1
	case a.Character > b.Character:
		return 1
	}
	return 0
}

// IsZero reports whether r is the zero range.
func (r Range) IsZero() bool {
	return r == Range{}
}

// Contains reports whether pos lies in r. Both ends are inclusive.
func (r Range) Contains(pos Position) bool {
	return ComparePositions(pos, r.Start) >= 0 && ComparePositions(pos, r.End) <= 0
}
