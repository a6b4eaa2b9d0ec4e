// Package app provides application-layer services.
// It wires domain logic with infrastructure, never the reverse.
package app

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/tutu-network/modelctl/internal/domain"
)

// BlobLine is a FROM or ADAPTER line, kept in the order it appeared.
type BlobLine struct {
	Adapter bool
	Value   string
}

// Modelfile is the parsed form of a model definition as servers render it
// from their show endpoint. FROM and ADAPTER keep every occurrence in order,
// both per directive and interleaved in Blobs.
type Modelfile struct {
	From       []string
	Adapters   []string
	Blobs      []BlobLine
	Template   string
	System     string
	License    string
	Parameters []domain.Parameter
	Messages   []domain.Message
}

// ParseModelfile parses a Modelfile from a reader.
// Supports directives: FROM, PARAMETER, SYSTEM, TEMPLATE, ADAPTER, MESSAGE, LICENSE.
// Multi-line values use triple-quote delimiters ("""), which may open and
// close on the directive's own line.
func ParseModelfile(r io.Reader) (*Modelfile, error) {
	mf := &Modelfile{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var block *string
	var lines []string

	for scanner.Scan() {
		line := scanner.Text()

		// Inside a """ block: collect until the closing delimiter.
		if block != nil {
			if before, ok := strings.CutSuffix(strings.TrimRight(line, " \t"), `"""`); ok {
				lines = append(lines, before)
				*block = strings.Join(lines, "\n")
				block, lines = nil, nil
				continue
			}
			lines = append(lines, line)
			continue
		}

		line = strings.TrimSpace(line)

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		directive, value, ok := splitWord(line)
		if !ok {
			continue // Ignore malformed lines
		}

		var target *string
		switch strings.ToUpper(directive) {
		case "FROM":
			mf.From = append(mf.From, value)
			mf.Blobs = append(mf.Blobs, BlobLine{Value: value})
		case "ADAPTER":
			mf.Adapters = append(mf.Adapters, value)
			mf.Blobs = append(mf.Blobs, BlobLine{Adapter: true, Value: value})
		case "PARAMETER":
			if p, ok := parseParameter(value); ok {
				mf.Parameters = append(mf.Parameters, p)
			}
		case "MESSAGE":
			role, content, ok := splitWord(value)
			if !ok {
				continue
			}
			// The content may open a """ block; the message is complete
			// once the block closes, and no other line runs in between.
			mf.Messages = append(mf.Messages, domain.Message{Role: role})
			target = &mf.Messages[len(mf.Messages)-1].Content
			value = content
		case "SYSTEM":
			target = &mf.System
		case "TEMPLATE":
			target = &mf.Template
		case "LICENSE":
			target = &mf.License
		default:
			// Unknown directives are silently ignored for forward compatibility
		}
		if target == nil {
			continue
		}

		rest, isBlock := strings.CutPrefix(value, `"""`)
		if !isBlock {
			*target = unquote(value)
			continue
		}
		if body, ok := strings.CutSuffix(rest, `"""`); ok {
			*target = body
			continue
		}
		block = target
		lines = []string{rest}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read Modelfile: %w", err)
	}
	if block != nil {
		// Unterminated block: keep what we have.
		*block = strings.Join(lines, "\n")
	}
	return mf, nil
}

// ParseParameterLines parses the string form of a show response's
// parameters: one "key value" pair per line, key and value separated by
// any amount of whitespace.
func ParseParameterLines(s string) []domain.Parameter {
	var params []domain.Parameter
	for _, line := range strings.Split(s, "\n") {
		if p, ok := parseParameter(strings.TrimSpace(line)); ok {
			params = append(params, p)
		}
	}
	return params
}

func parseParameter(value string) (domain.Parameter, bool) {
	key, val, ok := splitWord(value)
	if !ok {
		return domain.Parameter{}, false
	}
	return domain.Parameter{Key: key, Value: val}, true
}

// splitWord splits s at its first run of whitespace.
func splitWord(s string) (head, rest string, ok bool) {
	s = strings.TrimSpace(s)
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i <= 0 {
		return "", "", false
	}
	return s[:i], strings.TrimSpace(s[i:]), true
}

// unquote removes surrounding double quotes if present.
func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
