package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func sampleTable() *Table {
	return &Table{
		Headers: []string{"user", "account", "bytes"},
		Rows: [][]string{
			{"alice", "main", "1024"},
			{"bob", "backup", "2048"},
		},
	}
}

func TestTextFormatter(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := (&TextFormatter{}).FormatTo(buf, sampleTable()); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "user") || !strings.Contains(lines[2], "backup") {
		t.Errorf("unexpected table output %q", buf.String())
	}

	buf.Reset()
	(&TextFormatter{}).FormatTo(buf, "plain")
	if buf.String() != "plain\n" {
		t.Errorf("FormatTo() = %q, want %q", buf.String(), "plain\n")
	}
}

func TestJSONFormatter(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := (&JSONFormatter{Indent: true}).FormatTo(buf, sampleTable()); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}

	var got []map[string]string
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("FormatTo() produced invalid JSON: %v", err)
	}
	if len(got) != 2 || got[1]["account"] != "backup" {
		t.Errorf("unexpected records %v", got)
	}

	buf.Reset()
	table := sampleTable()
	table.Data = map[string]int{"total": 2}
	(&JSONFormatter{}).FormatTo(buf, table)
	if strings.TrimSpace(buf.String()) != `{"total":2}` {
		t.Errorf("expected Data to be encoded, got %q", buf.String())
	}
}

func TestCSVFormatter(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := (&CSVFormatter{}).FormatTo(buf, sampleTable()); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}
	expected := "user,account,bytes\nalice,main,1024\nbob,backup,2048\n"
	if buf.String() != expected {
		t.Errorf("FormatTo() = %q, want %q", buf.String(), expected)
	}

	if err := (&CSVFormatter{}).FormatTo(buf, "not a table"); err == nil {
		t.Error("expected error for non-tabular data")
	}
}

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		format  OutputFormat
		want    string
		wantErr bool
	}{
		{FormatText, "*cli.TextFormatter", false},
		{"", "*cli.TextFormatter", false},
		{FormatJSON, "*cli.JSONFormatter", false},
		{FormatCSV, "*cli.CSVFormatter", false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		f, err := NewFormatter(tt.format)
		if (err != nil) != tt.wantErr {
			t.Errorf("NewFormatter(%q) error = %v, wantErr %v", tt.format, err, tt.wantErr)
			continue
		}
		if err == nil {
			if got := typeName(f); got != tt.want {
				t.Errorf("NewFormatter(%q) = %s, want %s", tt.format, got, tt.want)
			}
		}
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *TextFormatter:
		return "*cli.TextFormatter"
	case *JSONFormatter:
		return "*cli.JSONFormatter"
	case *CSVFormatter:
		return "*cli.CSVFormatter"
	}
	return ""
}
