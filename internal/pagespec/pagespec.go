// Package pagespec parses 1-based page ranges such as "1-3,5,7-" into
// 0-based page indices.
package pagespec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrSyntax = errors.New("invalid page range")
	ErrRange  = errors.New("page out of range")
)

// Parse expands spec against a document of count pages. Items are
// separated by commas and may be "n", "a-b", "a-" (to the end) or "-b"
// (from the start). A range with a > b runs backwards. An empty spec or
// "all" selects every page. Order and duplicates are preserved.
func Parse(spec string, count int) ([]int, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" || strings.EqualFold(spec, "all") {
		out := make([]int, count)
		for i := range out {
			out[i] = i
		}
		return out, nil
	}
	var out []int
	for _, item := range strings.Split(spec, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			return nil, fmt.Errorf("%w: empty item in %q", ErrSyntax, spec)
		}
		lo, hi, err := bounds(item, count)
		if err != nil {
			return nil, err
		}
		step := 1
		if lo > hi {
			step = -1
		}
		for p := lo; ; p += step {
			out = append(out, p-1)
			if p == hi {
				break
			}
		}
	}
	return out, nil
}

// Valid reports whether spec is syntactically a page range, without
// checking it against a page count.
func Valid(spec string) bool {
	spec = strings.TrimSpace(spec)
	if spec == "" || strings.EqualFold(spec, "all") {
		return true
	}
	for _, item := range strings.Split(spec, ",") {
		if item = strings.TrimSpace(item); item == "" {
			return false
		}
		if _, _, err := bounds(item, maxPages); err != nil {
			return false
		}
	}
	return true
}

const maxPages = int(^uint(0) >> 1)

func bounds(item string, count int) (int, int, error) {
	a, b, isRange := strings.Cut(item, "-")
	if !isRange {
		n, err := page(a, count)
		return n, n, err
	}
	lo, hi := 1, count
	var err error
	if a = strings.TrimSpace(a); a != "" {
		if lo, err = page(a, count); err != nil {
			return 0, 0, err
		}
	}
	if b = strings.TrimSpace(b); b != "" {
		if hi, err = page(b, count); err != nil {
			return 0, 0, err
		}
	}
	if a == "" && b == "" {
		return 0, 0, fmt.Errorf("%w: %q", ErrSyntax, item)
	}
	if count == 0 {
		return 0, 0, fmt.Errorf("%w: %q of 0 pages", ErrRange, item)
	}
	return lo, hi, nil
}

func page(s string, count int) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %q", ErrSyntax, s)
	}
	if n > count {
		return 0, fmt.Errorf("%w: %d of %d", ErrRange, n, count)
	}
	return n, nil
}
