package util

import (
	"reflect"
	"testing"
)

func TestExpandRange(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		want    []int
		wantErr bool
	}{
		{name: "single value", spec: "5", want: []int{5}},
		{name: "simple range", spec: "1-5", want: []int{1, 2, 3, 4, 5}},
		{name: "mixed", spec: "1-3,5,7-9", want: []int{1, 2, 3, 5, 7, 8, 9}},
		{name: "duplicates removed", spec: "1-3,2-4", want: []int{1, 2, 3, 4}},
		{name: "empty string", spec: "", want: nil},
		{name: "reversed", spec: "5-1", wantErr: true},
		{name: "garbage", spec: "a", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandRange(tt.spec)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ExpandRange(%q) error = %v, wantErr %v", tt.spec, err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExpandRange(%q) = %v, want %v", tt.spec, got, tt.want)
			}
		})
	}
}

func TestParseBounds(t *testing.T) {
	tests := []struct {
		spec, sep string
		lo, hi    int
		wantErr   bool
	}{
		{"100-199", "-", 100, 199, false},
		{"80", ":", 80, 80, false},
		{"1000:2000", ":", 1000, 2000, false},
		{"2000:1000", ":", 0, 0, true},
		{"x:1", ":", 0, 0, true},
	}

	for _, tt := range tests {
		lo, hi, err := ParseBounds(tt.spec, tt.sep)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseBounds(%q) error = %v, wantErr %v", tt.spec, err, tt.wantErr)
			continue
		}
		if lo != tt.lo || hi != tt.hi {
			t.Errorf("ParseBounds(%q) = %d,%d want %d,%d", tt.spec, lo, hi, tt.lo, tt.hi)
		}
	}

	if got := FormatBounds(80, 80, ":"); got != "80" {
		t.Errorf("FormatBounds single = %q", got)
	}
	if got := FormatBounds(1000, 2000, ":"); got != "1000:2000" {
		t.Errorf("FormatBounds range = %q", got)
	}
}

func TestCompactRange(t *testing.T) {
	if got := CompactRange([]int{9, 1, 2, 3, 5, 7, 8, 3}); got != "1-3,5,7-9" {
		t.Errorf("CompactRange = %q", got)
	}
	if got := CompactRange(nil); got != "" {
		t.Errorf("CompactRange(nil) = %q", got)
	}
}

func TestValidateVLANID(t *testing.T) {
	for _, id := range []int{2, 100, 4094} {
		if err := ValidateVLANID(id); err != nil {
			t.Errorf("ValidateVLANID(%d) unexpected error: %v", id, err)
		}
	}
	for _, id := range []int{0, 1, 4095} {
		if err := ValidateVLANID(id); err == nil {
			t.Errorf("ValidateVLANID(%d) expected error", id)
		}
	}
}
