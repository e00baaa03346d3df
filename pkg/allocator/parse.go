package allocator

import (
	"regexp"
	"strconv"
	"strings"
)

// TagPrefix prefixes each value emitted by a device-side query loop.
const TagPrefix = "R:"

// ParseTaggedValues extracts, in order, the values of lines of the form
// "R: value". Values may be empty; other lines are ignored.
func ParseTaggedValues(out string) []string {
	var values []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		rest, ok := strings.CutPrefix(strings.TrimLeft(line, " \t"), TagPrefix)
		if !ok {
			continue
		}
		values = append(values, strings.TrimSpace(rest))
	}
	return values
}

// Ints converts the numeric values and skips the rest.
func Ints(values []string) []int {
	var out []int
	for _, v := range values {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			out = append(out, n)
		}
	}
	return out
}

// ParseSuffixes finds every "<prefix><digits>" token in out and returns the
// numeric suffixes sorted and de-duplicated. ParseSuffixes(out, "veth")
// turns "veth3 veth12 veth2" into [2 3 12].
func ParseSuffixes(out, prefix string) []int {
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(prefix) + `([0-9]+)\b`)
	var nums []int
	for _, m := range re.FindAllStringSubmatch(out, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil {
			nums = append(nums, n)
		}
	}
	return uniqueSorted(nums)
}
