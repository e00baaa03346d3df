package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestTable_Empty(t *testing.T) {
	var buf bytes.Buffer
	NewTableTo(&buf, "ID", "NAME").Flush()
	if buf.Len() != 0 {
		t.Errorf("empty table wrote %q", buf.String())
	}
}

func TestTable_Rows(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTableTo(&buf, "INDEX", "NAME", "STATE")
	tbl.Row("1", "sw1", "bound")
	tbl.Row("12", "router-east", "unbound")
	tbl.Flush()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	want := []string{
		"INDEX  NAME         STATE",
		"-----  ----         -----",
		"1      sw1          bound",
		"12     router-east  unbound",
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestTable_Prefix(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTableTo(&buf, "KEY", "VALUE").WithPrefix("  ")
	tbl.Row("usr", "admin")
	tbl.Flush()

	for _, line := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
		if !strings.HasPrefix(line, "  ") {
			t.Errorf("line %q missing prefix", line)
		}
	}
}

func TestTable_ColouredCellsAlign(t *testing.T) {
	var buf bytes.Buffer
	tbl := NewTableTo(&buf, "NAME", "STATUS", "NETWORK")
	tbl.Row("sw1", "\033[32mACTIVE\033[0m", "blue")
	tbl.Row("sw2", "\033[2mDOWN\033[0m", "-")
	tbl.Flush()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	col := strings.Index(lines[0], "NETWORK")
	for _, line := range lines[2:] {
		plain := ansiRE.ReplaceAllString(line, "")
		if got := strings.IndexAny(plain[col:], "b-"); got != 0 {
			t.Errorf("NETWORK column misaligned in %q", plain)
		}
	}
}

func TestVisibleWidth(t *testing.T) {
	tests := map[string]int{
		"":                       0,
		"ACTIVE":                 6,
		"\033[31mERROR\033[0m":   5,
		"\033[1m\033[2mx\033[0m": 1,
		"network ........":       16,
	}
	for in, want := range tests {
		if got := VisibleWidth(in); got != want {
			t.Errorf("VisibleWidth(%q) = %d, want %d", in, got, want)
		}
	}
}
