package util

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// IEEE 802.1Q user VLAN range.
const (
	MinVLANID = 2
	MaxVLANID = 4094
)

// ValidateVLANID checks that a VLAN ID lies in the user range
func ValidateVLANID(id int) error {
	if id < MinVLANID || id > MaxVLANID {
		return fmt.Errorf("VLAN ID %d out of range (%d-%d)", id, MinVLANID, MaxVLANID)
	}
	return nil
}

// ExpandRange expands a range string such as "1,5-7" into individual values
// Supports formats like:
//   - "1-5" -> [1, 2, 3, 4, 5]
//   - "1,3,5" -> [1, 3, 5]
//   - "1-3,5,7-9" -> [1, 2, 3, 5, 7, 8, 9]
func ExpandRange(spec string) ([]int, error) {
	if spec == "" {
		return nil, nil
	}

	var result []int
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		if strings.Contains(part, "-") {
			start, end, err := ParseBounds(part, "-")
			if err != nil {
				return nil, err
			}
			for i := start; i <= end; i++ {
				result = append(result, i)
			}
		} else {
			val, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid value: %s", part)
			}
			result = append(result, val)
		}
	}

	sort.Ints(result)
	return dedupInts(result), nil
}

// ParseBounds parses "min<sep>max" or a single "n" (min == max).
// Used for VLAN windows ("100-199") and L4 port ranges ("1000:2000").
func ParseBounds(spec, sep string) (int, int, error) {
	spec = strings.TrimSpace(spec)
	lo, hi, found := strings.Cut(spec, sep)
	start, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid start value in range %s: %v", spec, err)
	}
	if !found {
		return start, start, nil
	}
	end, err := strconv.Atoi(strings.TrimSpace(hi))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid end value in range %s: %v", spec, err)
	}
	if start > end {
		return 0, 0, fmt.Errorf("start value %d greater than end value %d in range %s", start, end, spec)
	}
	return start, end, nil
}

// FormatBounds is the inverse of ParseBounds.
func FormatBounds(start, end int, sep string) string {
	if start == end {
		return strconv.Itoa(start)
	}
	return fmt.Sprintf("%d%s%d", start, sep, end)
}

// CompactRange compacts a list of integers into range notation
// [1, 2, 3, 5, 7, 8, 9] -> "1-3,5,7-9"
func CompactRange(values []int) string {
	if len(values) == 0 {
		return ""
	}

	sorted := make([]int, len(values))
	copy(sorted, values)
	sort.Ints(sorted)
	sorted = dedupInts(sorted)

	var parts []string
	start := sorted[0]
	end := sorted[0]

	for i := 1; i < len(sorted); i++ {
		if sorted[i] == end+1 {
			end = sorted[i]
		} else {
			parts = append(parts, FormatBounds(start, end, "-"))
			start = sorted[i]
			end = sorted[i]
		}
	}
	parts = append(parts, FormatBounds(start, end, "-"))

	return strings.Join(parts, ",")
}

func dedupInts(sorted []int) []int {
	if len(sorted) == 0 {
		return sorted
	}
	result := []int{sorted[0]}
	for i := 1; i < len(sorted); i++ {
		if sorted[i] != sorted[i-1] {
			result = append(result, sorted[i])
		}
	}
	return result
}
