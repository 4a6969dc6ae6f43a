package gridstate

import "slices"

// PinModel lists columns pinned to the left and right edges.
type PinModel struct {
	Left  []string `json:"left,omitempty"`
	Right []string `json:"right,omitempty"`
}

// ParsePinModel parses {"left": [...], "right": [...]}. Both keys are
// optional; any other key or a non-string entry returns def unchanged.
//
// Columns in alwaysLeft are prepended to the parsed left list. The result is
// de-duplicated with first occurrence winning, and an always-left column is
// removed from the right list.
func ParsePinModel(raw string, def PinModel, alwaysLeft []string) PinModel {
	if isNull(raw) {
		return def
	}
	var m PinModel
	if err := decodeStrict(raw, &m); err != nil {
		return def
	}

	left := make([]string, 0, len(alwaysLeft)+len(m.Left))
	left = appendUnique(left, alwaysLeft...)
	left = appendUnique(left, m.Left...)

	var right []string
	for _, col := range m.Right {
		if !slices.Contains(left, col) && !slices.Contains(right, col) {
			right = append(right, col)
		}
	}
	if len(left) == 0 {
		left = nil
	}
	return PinModel{Left: left, Right: right}
}

// EncodePinModel renders m as JSON without the always-left columns, which
// are reapplied on parse and never persisted.
func EncodePinModel(m PinModel, alwaysLeft []string) string {
	var left []string
	for _, col := range m.Left {
		if !slices.Contains(alwaysLeft, col) {
			left = append(left, col)
		}
	}
	return encodeJSON(PinModel{Left: left, Right: m.Right})
}

func appendUnique(dst []string, cols ...string) []string {
	for _, c := range cols {
		if !slices.Contains(dst, c) {
			dst = append(dst, c)
		}
	}
	return dst
}
