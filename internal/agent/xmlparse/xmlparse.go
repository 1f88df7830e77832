// Package xmlparse implements the streaming tool-call syntax used when a
// provider has no native tool-call support: assistant text carries
//
//	<function_calls>
//	<invoke name="tool_name">
//	<parameter name="key">value</parameter>
//	</invoke>
//	</function_calls>
//
// inline in the response stream. Parameter values are raw text, not
// XML-escaped, so a real XML parser rejects anything containing a bare
// "<" or "&" in a parameter (code snippets, JSON, shell) — this package
// scans for the fixed tag shapes with regexp instead of decoding XML.
package xmlparse

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus/pkg/models"
)

const (
	openTag  = "<function_calls>"
	closeTag = "</function_calls>"
)

var (
	invokeRe = regexp.MustCompile(`(?s)<invoke\s+name="([^"]*)"\s*>(.*?)</invoke>`)
	paramRe  = regexp.MustCompile(`(?s)<parameter\s+name="([^"]*)"\s*>(.*?)</parameter>`)
)

// Parser incrementally splits a streamed assistant response into plain
// text and completed tool-call blocks. One Parser serves one turn; it
// is not safe for concurrent use.
type Parser struct {
	pending strings.Builder
}

// New returns an empty Parser.
func New() *Parser {
	return &Parser{}
}

// Feed appends a chunk of streamed text. It returns any plain text that
// is now safe to emit (will never turn out to be part of a tag) and any
// tool calls completed by this chunk. Call Flush after the stream ends
// to recover text trapped behind an unresolved partial tag.
func (p *Parser) Feed(chunk string) (text string, calls []models.ToolCall) {
	p.pending.WriteString(chunk)
	return p.drain()
}

// Flush returns whatever remains buffered as plain text, for when the
// stream ends with a dangling partial tag that will never complete.
func (p *Parser) Flush() string {
	rest := p.pending.String()
	p.pending.Reset()
	return rest
}

func (p *Parser) drain() (string, []models.ToolCall) {
	var textOut strings.Builder
	var calls []models.ToolCall

	for {
		buf := p.pending.String()
		start := strings.Index(buf, openTag)
		if start == -1 {
			keep := partialSuffixLen(buf, openTag)
			textOut.WriteString(buf[:len(buf)-keep])
			p.pending.Reset()
			p.pending.WriteString(buf[len(buf)-keep:])
			break
		}

		textOut.WriteString(buf[:start])

		end := strings.Index(buf[start:], closeTag)
		if end == -1 {
			// Block is open but not yet complete; withhold from start on.
			p.pending.Reset()
			p.pending.WriteString(buf[start:])
			break
		}
		blockEnd := start + end + len(closeTag)
		block := buf[start:blockEnd]
		calls = append(calls, parseBlock(block)...)

		p.pending.Reset()
		p.pending.WriteString(buf[blockEnd:])
	}

	return textOut.String(), calls
}

func parseBlock(block string) []models.ToolCall {
	var calls []models.ToolCall
	for _, inv := range invokeRe.FindAllStringSubmatch(block, -1) {
		name := strings.TrimSpace(inv[1])
		body := inv[2]
		if name == "" {
			continue
		}
		params := map[string]string{}
		for _, p := range paramRe.FindAllStringSubmatch(body, -1) {
			params[strings.TrimSpace(p[1])] = unescape(p[2])
		}
		input, err := json.Marshal(params)
		if err != nil {
			continue
		}
		calls = append(calls, models.ToolCall{
			ID:    uuid.NewString(),
			Name:  name,
			Input: input,
		})
	}
	return calls
}

var entityReplacer = strings.NewReplacer(
	"&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'", "&amp;", "&",
)

// unescape undoes the handful of XML entities a model sometimes still
// emits out of habit; everything else in a parameter body is taken
// literally since the wire format is not real XML.
func unescape(s string) string {
	return entityReplacer.Replace(strings.TrimSpace(strings.Trim(s, "\n")))
}

// partialSuffixLen returns the length of the longest suffix of buf that
// is also a prefix of tag — i.e. how much trailing text might be the
// start of tag and must be held back until more input arrives.
func partialSuffixLen(buf, tag string) int {
	max := len(tag) - 1
	if max > len(buf) {
		max = len(buf)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(buf, tag[:n]) {
			return n
		}
	}
	return 0
}
