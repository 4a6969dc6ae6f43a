package gridstate

import (
	"context"
	"errors"
	"fmt"

	"github.com/gosimple/slug"

	"weavequery/internal/settings"
)

// ErrInvalidViewName is returned for names that slugify to nothing.
var ErrInvalidViewName = errors.New("invalid view name")

// Setting key suffixes under a view's slug.
const (
	keyFilter   = "filter"
	keySort     = "sort"
	keyPin      = "pin"
	keyPage     = "page"
	keyPageSize = "pageSize"
)

var viewKeys = []string{keyFilter, keySort, keyPin, keyPage, keyPageSize}

// View is the complete persisted state of one grid.
type View struct {
	Filter     FilterModel `json:"filter"`
	Sort       SortModel   `json:"sort"`
	Pin        PinModel    `json:"pin"`
	Pagination Pagination  `json:"pagination"`
}

// DefaultView is an empty view with the default page size.
func DefaultView() View {
	return View{
		Filter:     FilterModel{Items: []FilterItem{}, LogicOperator: LogicAnd},
		Pagination: Pagination{PageSize: DefaultPageSize},
	}
}

// ViewKey returns the settings key for one part of the named view.
func ViewKey(name, part string) (string, error) {
	s := slug.Make(name)
	if s == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidViewName, name)
	}
	return s + "." + part, nil
}

// LoadView reads a view from store. Parts that are missing or malformed take
// their value from defaults; only store errors are returned.
func LoadView(ctx context.Context, store settings.Store, name string, defaults View, alwaysLeft []string) (View, error) {
	raw := make(map[string]string, len(viewKeys))
	for _, part := range viewKeys {
		key, err := ViewKey(name, part)
		if err != nil {
			return View{}, err
		}
		v, err := store.Get(ctx, key)
		if err != nil {
			return View{}, fmt.Errorf("load view %q: %w", name, err)
		}
		if v != nil {
			raw[part] = *v
		}
	}

	view := View{
		Filter: ParseFilterModel(raw[keyFilter], defaults.Filter),
		Sort:   ParseSortModel(raw[keySort], defaults.Sort),
		Pin:    ParsePinModel(raw[keyPin], defaults.Pin, alwaysLeft),
	}

	// Missing page values keep the defaults rather than ParsePagination's.
	p := ParsePagination(raw[keyPage], raw[keyPageSize])
	view.Pagination = defaults.Pagination
	if _, ok := raw[keyPage]; ok {
		view.Pagination.Page = p.Page
	}
	if _, ok := raw[keyPageSize]; ok {
		view.Pagination.PageSize = p.PageSize
	}
	if view.Pagination.PageSize < 1 || view.Pagination.PageSize > MaxPageSize {
		view.Pagination.PageSize = DefaultPageSize
	}
	return view, nil
}

// SaveView writes every part of view to store.
func SaveView(ctx context.Context, store settings.Store, name string, view View, alwaysLeft []string) error {
	page, pageSize := EncodePagination(view.Pagination)
	values := map[string]string{
		keyFilter:   EncodeFilterModel(view.Filter),
		keySort:     EncodeSortModel(view.Sort),
		keyPin:      EncodePinModel(view.Pin, alwaysLeft),
		keyPage:     page,
		keyPageSize: pageSize,
	}
	for _, part := range viewKeys {
		key, err := ViewKey(name, part)
		if err != nil {
			return err
		}
		if err := store.Put(ctx, key, values[part]); err != nil {
			return fmt.Errorf("save view %q: %w", name, err)
		}
	}
	return nil
}

// DeleteView removes every part of the named view.
func DeleteView(ctx context.Context, store settings.Store, name string) error {
	for _, part := range viewKeys {
		key, err := ViewKey(name, part)
		if err != nil {
			return err
		}
		if err := store.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete view %q: %w", name, err)
		}
	}
	return nil
}

// ListViews returns the slugs of all stored views.
func ListViews(ctx context.Context, store settings.Store) ([]string, error) {
	all, err := store.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list views: %w", err)
	}
	return settings.Prefixes(all), nil
}
