package pop3

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
)

func TestDotStuffLine(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "No dots",
			input:    "Line 1",
			expected: "Line 1",
		},
		{
			name:     "Lone dot",
			input:    ".",
			expected: "..",
		},
		{
			name:     "Dot at start of line with text",
			input:    ".Line 1",
			expected: ".Line 1",
		},
		{
			name:     "Two dots",
			input:    "..",
			expected: "..",
		},
		{
			name:     "Dot in middle of line",
			input:    "This is a . in the middle",
			expected: "This is a . in the middle",
		},
		{
			name:     "Empty line",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := dotStuffLine(tt.input)
			if result != tt.expected {
				t.Errorf("dotStuffLine() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestWriteMultiline(t *testing.T) {
	tests := []struct {
		name     string
		lines    []string
		expected string
	}{
		{
			name:     "Empty body",
			lines:    nil,
			expected: ".\r\n",
		},
		{
			name:     "Plain lines",
			lines:    []string{"Line 1", "Line 2"},
			expected: "Line 1\r\nLine 2\r\n.\r\n",
		},
		{
			name:     "Dot terminator in body",
			lines:    []string{"Line 1", ".", "Line 2"},
			expected: "Line 1\r\n..\r\nLine 2\r\n.\r\n",
		},
		{
			name:     "Real-world HTML email with dots",
			lines:    []string{"Content-Type: text/html", "", "<html>", ".", "</html>"},
			expected: "Content-Type: text/html\r\n\r\n<html>\r\n..\r\n</html>\r\n.\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			w := bufio.NewWriter(&buf)
			if err := WriteMultiline(w, tt.lines); err != nil {
				t.Fatalf("WriteMultiline() error = %v", err)
			}
			w.Flush()
			if buf.String() != tt.expected {
				t.Errorf("WriteMultiline() = %q, want %q", buf.String(), tt.expected)
			}
		})
	}
}

func TestSplitBody(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "Empty message", input: "", expected: nil},
		{name: "Trailing CRLF is not a line", input: "A\r\nB\r\n", expected: []string{"A", "B"}},
		{name: "No trailing CRLF", input: "A\r\nB", expected: []string{"A", "B"}},
		{name: "Blank separator kept", input: "H: v\r\n\r\nbody\r\n", expected: []string{"H: v", "", "body"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitBody(tt.input)
			if strings.Join(got, "|") != strings.Join(tt.expected, "|") || len(got) != len(tt.expected) {
				t.Errorf("splitBody() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func BenchmarkWriteMultiline_LargeMessage(b *testing.B) {
	lines := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		if i%10 == 0 {
			lines = append(lines, ".")
		} else {
			lines = append(lines, "Regular line without dot at start")
		}
	}
	w := bufio.NewWriter(&bytes.Buffer{})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = WriteMultiline(w, lines)
		w.Reset(&bytes.Buffer{})
	}
}
