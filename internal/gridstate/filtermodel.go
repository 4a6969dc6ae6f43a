package gridstate

import (
	"github.com/google/uuid"

	"weavequery/internal/filter"
)

// LogicAnd is the only supported logic operator between filter items.
const LogicAnd = "and"

// FilterItem is one row of the filter editor.
type FilterItem struct {
	ID       string          `json:"id"`
	Field    string          `json:"field"`
	Operator filter.Operator `json:"operator"`
	Value    any             `json:"value,omitempty"`
}

// FilterModel is the persisted filter editor state.
type FilterModel struct {
	Items         []FilterItem `json:"items"`
	LogicOperator string       `json:"logicOperator,omitempty"`
}

// ParseFilterModel parses {"items": [...], "logicOperator": "and"}. Items
// must name a field and a known operator; otherwise def is returned. Items
// without an id get a fresh one.
func ParseFilterModel(raw string, def FilterModel) FilterModel {
	if isNull(raw) {
		return def
	}
	var m FilterModel
	if err := decodeStrict(raw, &m); err != nil {
		return def
	}
	if m.LogicOperator != "" && m.LogicOperator != LogicAnd {
		return def
	}
	for i := range m.Items {
		it := &m.Items[i]
		if it.Field == "" || !it.Operator.Valid() {
			return def
		}
		if it.ID == "" {
			it.ID = uuid.NewString()
		}
	}
	if m.Items == nil {
		m.Items = []FilterItem{}
	}
	m.LogicOperator = LogicAnd
	return m
}

// EncodeFilterModel renders m as JSON.
func EncodeFilterModel(m FilterModel) string {
	if m.Items == nil {
		m.Items = []FilterItem{}
	}
	if m.LogicOperator == "" {
		m.LogicOperator = LogicAnd
	}
	return encodeJSON(m)
}

// Filters returns the items as compiler input, in order.
func (m FilterModel) Filters() []filter.Filter {
	if len(m.Items) == 0 {
		return nil
	}
	out := make([]filter.Filter, len(m.Items))
	for i, it := range m.Items {
		out[i] = filter.Filter{Field: it.Field, Operator: it.Operator, Value: it.Value}
	}
	return out
}

// UIFilters returns the items with their ids.
func (m FilterModel) UIFilters() []filter.UIFilter {
	out := make([]filter.UIFilter, len(m.Items))
	for i, it := range m.Items {
		out[i] = filter.UIFilter{
			Filter: filter.Filter{Field: it.Field, Operator: it.Operator, Value: it.Value},
			ID:     it.ID,
		}
	}
	return out
}

// FilterModelOf builds a model from filters, minting an id for each.
func FilterModelOf(filters []filter.Filter) FilterModel {
	m := FilterModel{Items: make([]FilterItem, len(filters)), LogicOperator: LogicAnd}
	for i, f := range filters {
		m.Items[i] = FilterItem{
			ID:       uuid.NewString(),
			Field:    f.Field,
			Operator: f.Operator,
			Value:    f.Value,
		}
	}
	return m
}
