package provider

import (
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
)

var ErrInvalidResolver = errors.New("invalid resolver rule")

// Resolver maps a data file reference from a manifest to the key of the
// staged object. References are never used as keys directly: providers
// write them relative to their own bucket layout, which the staging copy
// does not preserve.
type Resolver interface {
	Resolve(manifestKey, ref string) string
}

// SegmentResolver keeps the last Segments path segments of the reference and
// joins them to the manifest's directory, walked Up levels towards the root.
// References with fewer segments keep only their base name.
type SegmentResolver struct {
	Up       int
	Segments int
}

// Basename places every file beside its manifest.
var Basename = SegmentResolver{Segments: 1}

func (r SegmentResolver) Resolve(manifestKey, ref string) string {
	base := path.Dir(manifestKey)
	for i := 0; i < r.Up; i++ {
		base = path.Dir(base)
	}
	parts := strings.Split(strings.Trim(ref, "/"), "/")
	n := r.Segments
	if n < 1 || len(parts) < n {
		n = 1
	}
	rel := strings.Join(parts[len(parts)-n:], "/")
	if base == "." || base == "/" {
		return rel
	}
	return base + "/" + rel
}

func (r SegmentResolver) String() string {
	switch {
	case r.Up > 0:
		return fmt.Sprintf("ancestor:%d:%d", r.Up, r.Segments)
	case r.Segments > 1:
		return fmt.Sprintf("trailing:%d", r.Segments)
	}
	return "basename"
}

// ParseResolver parses a resolver rule: "basename", "trailing:N" (last N
// segments below the manifest directory) or "ancestor:UP:N" (last N segments
// below the directory UP levels above the manifest directory).
func ParseResolver(rule string) (Resolver, error) {
	parts := strings.Split(rule, ":")
	ints := func(values []string) ([]int, error) {
		out := make([]int, len(values))
		for i, v := range values {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("%w %q", ErrInvalidResolver, rule)
			}
			out[i] = n
		}
		return out, nil
	}

	switch {
	case rule == "basename":
		return Basename, nil
	case parts[0] == "trailing" && len(parts) == 2:
		n, err := ints(parts[1:])
		if err != nil || n[0] == 0 {
			return nil, fmt.Errorf("%w %q", ErrInvalidResolver, rule)
		}
		return SegmentResolver{Segments: n[0]}, nil
	case parts[0] == "ancestor" && len(parts) == 3:
		n, err := ints(parts[1:])
		if err != nil || n[1] == 0 {
			return nil, fmt.Errorf("%w %q", ErrInvalidResolver, rule)
		}
		return SegmentResolver{Up: n[0], Segments: n[1]}, nil
	}
	return nil, fmt.Errorf("%w %q, expected basename, trailing:N or ancestor:UP:N", ErrInvalidResolver, rule)
}
