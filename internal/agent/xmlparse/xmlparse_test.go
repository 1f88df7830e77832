package xmlparse

import (
	"encoding/json"
	"testing"
)

func TestFeedPlainText(t *testing.T) {
	p := New()
	text, calls := p.Feed("hello there")
	if text != "hello there" {
		t.Fatalf("text = %q, want %q", text, "hello there")
	}
	if len(calls) != 0 {
		t.Fatalf("expected no calls, got %d", len(calls))
	}
}

func TestFeedCompleteBlockInOneChunk(t *testing.T) {
	p := New()
	chunk := `before <function_calls><invoke name="search"><parameter name="q">golang</parameter></invoke></function_calls> after`
	text, calls := p.Feed(chunk)

	if text != "before  after" {
		t.Fatalf("text = %q, want %q", text, "before  after")
	}
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d: %#v", len(calls), calls)
	}
	if calls[0].Name != "search" {
		t.Fatalf("call name = %q, want search", calls[0].Name)
	}
	var params map[string]string
	if err := json.Unmarshal(calls[0].Input, &params); err != nil {
		t.Fatalf("unmarshal input: %v", err)
	}
	if params["q"] != "golang" {
		t.Fatalf("params[q] = %q, want golang", params["q"])
	}

	if rest := p.Flush(); rest != "" {
		t.Fatalf("flush after full drain = %q, want empty", rest)
	}
}

func TestFeedBlockSplitAcrossChunks(t *testing.T) {
	p := New()
	part1 := `hi <function_calls><invoke name="run_code"><param`
	part2 := `eter name="code">fn main() { a < b }</parameter></invoke></function_calls> bye`

	text1, calls1 := p.Feed(part1)
	if text1 != "hi " {
		t.Fatalf("text1 = %q, want %q", text1, "hi ")
	}
	if len(calls1) != 0 {
		t.Fatalf("expected no calls from first chunk, got %d", len(calls1))
	}

	text2, calls2 := p.Feed(part2)
	if text2 != " bye" {
		t.Fatalf("text2 = %q, want %q", text2, " bye")
	}
	if len(calls2) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls2))
	}
	if calls2[0].Name != "run_code" {
		t.Fatalf("call name = %q, want run_code", calls2[0].Name)
	}
	var params map[string]string
	if err := json.Unmarshal(calls2[0].Input, &params); err != nil {
		t.Fatalf("unmarshal input: %v", err)
	}
	if params["code"] != "fn main() { a < b }" {
		t.Fatalf("params[code] = %q", params["code"])
	}

	if rest := p.Flush(); rest != "" {
		t.Fatalf("flush after full drain = %q, want empty", rest)
	}
}

func TestFeedMultipleInvokesInOneBlock(t *testing.T) {
	p := New()
	chunk := `<function_calls>` +
		`<invoke name="a"><parameter name="x">1</parameter></invoke>` +
		`<invoke name="b"><parameter name="y">2</parameter></invoke>` +
		`</function_calls>`
	_, calls := p.Feed(chunk)
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].Name != "a" || calls[1].Name != "b" {
		t.Fatalf("unexpected call order: %#v", calls)
	}
}

func TestFlushWithDanglingPartialTag(t *testing.T) {
	p := New()
	text, calls := p.Feed("trailing <function_ca")
	if len(calls) != 0 {
		t.Fatalf("expected no calls, got %d", len(calls))
	}
	if text != "trailing " {
		t.Fatalf("text = %q, want %q", text, "trailing ")
	}
	rest := p.Flush()
	if rest != "<function_ca" {
		t.Fatalf("flush = %q, want %q", rest, "<function_ca")
	}
}
