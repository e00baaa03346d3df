// Package allocator picks identifiers that must not collide with what is
// already configured on a live device: VLAN tags, tunnel keys,
// interface-pair slots and positional indices of named config entries.
//
// Nothing here talks to a device. Drivers collect the in-use state with
// their own queries and pass it in; every failure wraps
// util.ErrResourceNotFound.
package allocator

import (
	"fmt"
	"sort"

	"github.com/newtron-network/extport/pkg/util"
)

// Pair is a pair of consecutive interface suffixes.
type Pair struct {
	A, B int
}

// DefaultMaxSuffix bounds interface-pair allocation.
const DefaultMaxSuffix = 4095

// InterfacePair chooses the next free pair of interface suffixes given the
// suffixes already in use.
//
// Gaps are measured in pair widths: an interior gap is used only when it can
// hold two pairs (at least four free suffixes). The new pair then starts
// right after the lower neighbour. Otherwise the pair is appended after the
// highest used suffix. The first gap is the one below the lowest suffix,
// counted from -1, so an empty list yields (0,1).
//
//	[2,3,7,8]   -> (9,10)
//	[2,3,10,11] -> (4,5)
//
// A pair past maxSuffix is an error; allocation never wraps around.
func InterfacePair(used []int, maxSuffix int) (Pair, error) {
	if maxSuffix <= 0 {
		maxSuffix = DefaultMaxSuffix
	}
	sorted := uniqueSorted(used)

	prev := -1
	for _, next := range sorted {
		if next < 0 {
			continue
		}
		if next-prev-1 >= 4 {
			return Pair{prev + 1, prev + 2}, nil
		}
		prev = next
	}

	p := Pair{prev + 1, prev + 2}
	if p.B > maxSuffix {
		return Pair{}, fmt.Errorf("%w: no interface pair slot left (highest in use %d, max %d)",
			util.ErrResourceNotFound, prev, maxSuffix)
	}
	return p, nil
}

// StaticTag derives a VLAN tag deterministically as index+offset. The result
// must be a valid user VLAN.
func StaticTag(index, offset int) (int, error) {
	if index < 0 {
		return 0, fmt.Errorf("%w: negative index %d", util.ErrResourceNotFound, index)
	}
	tag := index + offset
	if err := util.ValidateVLANID(tag); err != nil {
		return 0, fmt.Errorf("%w: index %d: %v", util.ErrResourceNotFound, index, err)
	}
	return tag, nil
}

// TunnelKey maps an attachment point index 1:1 onto a GRE key.
func TunnelKey(index int) (int, error) {
	if index < 0 || int64(index) > 0xFFFFFFFF {
		return 0, fmt.Errorf("%w: index %d does not fit a tunnel key", util.ErrResourceNotFound, index)
	}
	return index, nil
}

// IndexOf returns the position of name in an ordered dump of entry names.
// An empty name stops the scan: entries past it are not trusted and the
// lookup reports not found rather than a position.
func IndexOf(kind string, names []string, name string) (int, error) {
	for i, n := range names {
		if n == "" {
			break
		}
		if n == name {
			return i, nil
		}
	}
	return -1, util.NewNotFoundOnDeviceError(kind, name)
}

func uniqueSorted(in []int) []int {
	out := append([]int(nil), in...)
	sort.Ints(out)
	j := 0
	for i, v := range out {
		if i == 0 || v != out[j-1] {
			out[j] = v
			j++
		}
	}
	return out[:j]
}
