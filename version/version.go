// Package version maps the product version of a legacy installation onto the token its schema
// upgrade starts from.
//
// Versions are semantic versions; the leading "v" is optional.
package version

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/root-talis/shinka/migration"
)

var (
	ErrUnsupported = errors.New("unsupported version")

	ErrInvalidVersion     = fmt.Errorf("%w: not a semantic version", ErrUnsupported)
	ErrVersionTooOld      = fmt.Errorf("%w: older than the oldest upgradable version", ErrUnsupported)
	ErrVersionTooNew      = fmt.Errorf("%w: newer than the current version", ErrUnsupported)
	ErrVersionUnsupported = fmt.Errorf("%w: no upgrade path is defined for it", ErrUnsupported)

	ErrInvalidRange = errors.New("invalid version range")
)

// Range maps versions in [Min, Max) onto Token. An empty Max extends the range up to and
// including the current version.
type Range struct {
	Min   string
	Max   string
	Token migration.Token
}

type Map struct {
	current string
	ranges  []Range
}

// NewMap validates ranges and returns a map for a product whose current version is current.
// Ranges must not overlap.
func NewMap(current string, ranges ...Range) (*Map, error) {
	cur, ok := canonical(current)
	if !ok {
		return nil, fmt.Errorf("%w: current version %q", ErrInvalidVersion, current)
	}

	normalized := make([]Range, 0, len(ranges))

	for _, r := range ranges {
		lo, ok := canonical(r.Min)
		if !ok {
			return nil, fmt.Errorf("%w: minimum %q", ErrInvalidRange, r.Min)
		}

		hi := ""
		if r.Max != "" {
			if hi, ok = canonical(r.Max); !ok {
				return nil, fmt.Errorf("%w: maximum %q", ErrInvalidRange, r.Max)
			}
			if semver.Compare(lo, hi) >= 0 {
				return nil, fmt.Errorf("%w: [%s, %s) is empty", ErrInvalidRange, r.Min, r.Max)
			}
		}

		if semver.Compare(lo, cur) > 0 {
			return nil, fmt.Errorf("%w: [%s, %s) starts after the current version %s", ErrInvalidRange, r.Min, r.Max, current)
		}

		normalized = append(normalized, Range{Min: lo, Max: hi, Token: r.Token})
	}

	sort.Slice(normalized, func(i, j int) bool {
		return semver.Compare(normalized[i].Min, normalized[j].Min) < 0
	})

	for i := 1; i < len(normalized); i++ {
		prev := normalized[i-1]
		if prev.Max == "" || semver.Compare(prev.Max, normalized[i].Min) > 0 {
			return nil, fmt.Errorf("%w: ranges starting at %s and %s overlap", ErrInvalidRange, prev.Min, normalized[i].Min)
		}
	}

	return &Map{
		current: cur,
		ranges:  normalized,
	}, nil
}

// Current returns the current version in canonical form.
func (m *Map) Current() string {
	return m.current
}

// Origin returns the token an installation of version legacy starts upgrading from.
// An empty legacy version means nothing is installed and yields migration.Origin.
func (m *Map) Origin(legacy string) (migration.Token, error) {
	if legacy == "" {
		return migration.Origin, nil
	}

	v, ok := canonical(legacy)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidVersion, legacy)
	}

	if semver.Compare(v, m.current) > 0 {
		return "", fmt.Errorf("%w: %s > %s", ErrVersionTooNew, legacy, m.current)
	}

	if len(m.ranges) == 0 || semver.Compare(v, m.ranges[0].Min) < 0 {
		return "", fmt.Errorf("%w: %s", ErrVersionTooOld, legacy)
	}

	for _, r := range m.ranges {
		if semver.Compare(v, r.Min) < 0 {
			continue
		}
		if r.Max == "" || semver.Compare(v, r.Max) < 0 {
			return r.Token, nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrVersionUnsupported, legacy)
}

func canonical(v string) (string, bool) {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return "", false
	}
	return semver.Canonical(v), true
}

// ---

// Resolver reports the product version of the running installation.
type Resolver interface {
	ResolveVersion(ctx context.Context) (string, error)
}

// Static is a Resolver that always reports itself.
type Static string

func (s Static) ResolveVersion(_ context.Context) (string, error) {
	return string(s), nil
}
