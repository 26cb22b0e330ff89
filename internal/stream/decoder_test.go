package stream

import (
	"reflect"
	"testing"
)

func TestLineDecoder_SingleChunk(t *testing.T) {
	d := &LineDecoder{}

	lines := d.Feed("a\nb\nc\n")
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(lines, want) {
		t.Errorf("Feed() = %v, want %v", lines, want)
	}
	if _, ok := d.Flush(); ok {
		t.Errorf("Flush() reported pending data after terminated input")
	}
}

func TestLineDecoder_PartialLineAcrossChunks(t *testing.T) {
	d := &LineDecoder{}

	if lines := d.Feed("data: {\"messages\":[{\"id\":\"m1\",\"content\":\"Hel"); len(lines) != 0 {
		t.Fatalf("Feed() emitted %v before newline", lines)
	}
	lines := d.Feed("lo\"}]}\n")
	if len(lines) != 1 {
		t.Fatalf("Feed() = %v, want one line", lines)
	}
	want := `data: {"messages":[{"id":"m1","content":"Hello"}]}`
	if lines[0] != want {
		t.Errorf("line = %q, want %q", lines[0], want)
	}
}

func TestLineDecoder_NewlineConventions(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"lf", "a\nb\n", []string{"a", "b"}},
		{"crlf", "a\r\nb\r\n", []string{"a", "b"}},
		{"bare cr", "a\rb\r", []string{"a"}}, // trailing \r held for lookahead
		{"mixed", "a\nb\r\nc\rd\n", []string{"a", "b", "c", "d"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &LineDecoder{}
			got := d.Feed(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Feed(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLineDecoder_CRLFSplitAcrossChunks(t *testing.T) {
	d := &LineDecoder{}

	var lines []string
	lines = append(lines, d.Feed("first\r")...)
	lines = append(lines, d.Feed("\nsecond\n")...)

	want := []string{"first", "second"}
	if !reflect.DeepEqual(lines, want) {
		t.Errorf("lines = %v, want %v", lines, want)
	}
}

func TestLineDecoder_BareCRThenContent(t *testing.T) {
	d := &LineDecoder{}

	var lines []string
	lines = append(lines, d.Feed("first\r")...)
	lines = append(lines, d.Feed("second\n")...)

	want := []string{"first", "second"}
	if !reflect.DeepEqual(lines, want) {
		t.Errorf("lines = %v, want %v", lines, want)
	}
}

func TestLineDecoder_EmptyChunk(t *testing.T) {
	d := &LineDecoder{}
	d.Feed("partial")
	if lines := d.Feed(""); lines != nil {
		t.Errorf("Feed(\"\") = %v, want nil", lines)
	}
	if line, ok := d.Flush(); !ok || line != "partial" {
		t.Errorf("Flush() = %q, %v after empty chunk", line, ok)
	}
}

func TestLineDecoder_FlushUnterminatedFinalLine(t *testing.T) {
	d := &LineDecoder{}
	d.Feed("a\nfinal without newline")

	line, ok := d.Flush()
	if !ok {
		t.Fatal("Flush() found nothing, want final line")
	}
	if line != "final without newline" {
		t.Errorf("Flush() = %q", line)
	}
	if _, ok := d.Flush(); ok {
		t.Error("second Flush() reported pending data")
	}
}

// TestLineDecoder_ChunkSplitInvariance verifies that however the input is
// sliced into chunks, the decoded lines are identical.
func TestLineDecoder_ChunkSplitInvariance(t *testing.T) {
	input := "event: node\r\ndata: {\"a\":1}\nplain\rlast"
	want := []string{"event: node", "data: {\"a\":1}", "plain", "last"}

	for size := 1; size <= len(input); size++ {
		d := &LineDecoder{}
		var lines []string
		for start := 0; start < len(input); start += size {
			end := start + size
			if end > len(input) {
				end = len(input)
			}
			lines = append(lines, d.Feed(input[start:end])...)
		}
		if line, ok := d.Flush(); ok {
			lines = append(lines, line)
		}
		if !reflect.DeepEqual(lines, want) {
			t.Errorf("chunk size %d: lines = %v, want %v", size, lines, want)
		}
	}
}
