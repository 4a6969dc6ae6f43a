package gridstate

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// SortItem sorts by one field. A nil Sort means the column is listed but
// not sorted; such items are dropped when planning a query.
type SortItem struct {
	Field string     `json:"field"`
	Sort  *Direction `json:"sort"`
}

// SortModel is an ordered list of sort items.
type SortModel []SortItem

// SortBy is a convenience constructor for a sorted item.
func SortBy(field string, dir Direction) SortItem {
	return SortItem{Field: field, Sort: &dir}
}

// ParseSortModel parses a JSON array of {field, sort} objects. Anything
// else returns def.
func ParseSortModel(raw string, def SortModel) SortModel {
	if isNull(raw) {
		return def
	}
	var items []SortItem
	if err := decodeStrict(raw, &items); err != nil {
		return def
	}
	if items == nil {
		return def
	}
	for _, it := range items {
		if it.Field == "" {
			return def
		}
		if it.Sort != nil && *it.Sort != Asc && *it.Sort != Desc {
			return def
		}
	}
	return SortModel(items)
}

// EncodeSortModel renders m as JSON. A nil model encodes as "[]".
func EncodeSortModel(m SortModel) string {
	if m == nil {
		m = SortModel{}
	}
	return encodeJSON(m)
}
