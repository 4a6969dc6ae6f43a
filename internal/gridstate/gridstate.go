// Package gridstate parses and encodes the persisted state of a data grid:
// pagination, sort, pinned columns and the filter model.
//
// Parse functions are total. Malformed input, such as bad JSON, an
// unexpected key or an out-of-range number, yields the caller's default and
// never an error, because the state comes from URLs and stored settings that
// other versions may have written.
package gridstate

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"
)

// DefaultPageSize is used when no valid page size is given.
const DefaultPageSize = 100

// MaxPageSize is the largest page size accepted.
const MaxPageSize = 100

// Pagination is a zero-based page index and a page size.
type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
}

// Offset returns the index of the first row on the page.
func (p Pagination) Offset() int {
	return p.Page * p.PageSize
}

// ParsePagination parses page and page size strings. An empty string means
// the value is absent. A page that is not a non-negative integer becomes 0; a
// page size outside 1..MaxPageSize becomes DefaultPageSize.
func ParsePagination(page, pageSize string) Pagination {
	return PaginationOf(atoiOr(page, -1), atoiOr(pageSize, -1))
}

// PaginationOf applies the ParsePagination limits to integers: a negative
// page becomes 0 and a page size outside 1..MaxPageSize becomes
// DefaultPageSize.
func PaginationOf(page, pageSize int) Pagination {
	p := Pagination{PageSize: DefaultPageSize}
	if page >= 0 {
		p.Page = page
	}
	if pageSize >= 1 && pageSize <= MaxPageSize {
		p.PageSize = pageSize
	}
	return p
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}

// EncodePagination renders p as the strings ParsePagination accepts.
func EncodePagination(p Pagination) (page, pageSize string) {
	return strconv.Itoa(p.Page), strconv.Itoa(p.PageSize)
}

// decodeStrict unmarshals exactly one JSON value into v, rejecting unknown
// object keys and trailing data.
func decodeStrict(raw string, v any) error {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("trailing data after JSON value")
	}
	return nil
}

// isNull reports whether raw is absent or the JSON literal null.
func isNull(raw string) bool {
	s := strings.TrimSpace(raw)
	return s == "" || s == "null"
}

func encodeJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		// Models only hold strings, numbers and bools.
		panic(err)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
