package nanoweb

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPattern is returned when a route pattern cannot be compiled.
var ErrInvalidPattern = errors.New("nanoweb: invalid route pattern")

// Params maps placeholder names to the substrings they matched.
type Params map[string]string

// Get returns the value bound to name.
func (p Params) Get(name string) (string, bool) {
	v, ok := p[name]
	return v, ok
}

// Pattern is a compiled route pattern such as "/api/download/<name>".
//
// A pattern is a sequence of literal segments split around <name>
// placeholders. literals[0] precedes the first placeholder and literals[i+1]
// follows placeholder i; only the last of them may be empty, in which case the
// final placeholder consumes the remainder of the URL.
type Pattern struct {
	raw      string
	literals []string
	names    []string
}

// CompilePattern parses raw into a Pattern. It fails with ErrInvalidPattern
// when the pattern begins with a placeholder, a placeholder is unterminated or
// unnamed, a name contains a path separator, or two placeholders are adjacent.
func CompilePattern(raw string) (*Pattern, error) {
	p := &Pattern{raw: raw}

	open := strings.IndexByte(raw, '<')
	if open < 0 {
		p.literals = []string{raw}
		return p, nil
	}
	if open == 0 {
		return nil, fmt.Errorf("%w %q: must begin with a literal", ErrInvalidPattern, raw)
	}

	p.literals = append(p.literals, raw[:open])
	rest := raw[open+1:]
	for {
		end := strings.IndexByte(rest, '>')
		if end < 0 {
			return nil, fmt.Errorf("%w %q: unterminated placeholder", ErrInvalidPattern, raw)
		}
		name := rest[:end]
		switch {
		case name == "":
			return nil, fmt.Errorf("%w %q: placeholder without a name", ErrInvalidPattern, raw)
		case strings.ContainsAny(name, "/<"):
			return nil, fmt.Errorf("%w %q: illegal placeholder name %q", ErrInvalidPattern, raw, name)
		}
		for _, seen := range p.names {
			if seen == name {
				return nil, fmt.Errorf("%w %q: duplicate placeholder %q", ErrInvalidPattern, raw, name)
			}
		}
		p.names = append(p.names, name)

		rest = rest[end+1:]
		next := strings.IndexByte(rest, '<')
		if next < 0 {
			p.literals = append(p.literals, rest)
			return p, nil
		}
		if next == 0 {
			return nil, fmt.Errorf("%w %q: adjacent placeholders", ErrInvalidPattern, raw)
		}
		p.literals = append(p.literals, rest[:next])
		rest = rest[next+1:]
	}
}

// MustCompilePattern is like CompilePattern but panics on error.
func MustCompilePattern(raw string) *Pattern {
	p, err := CompilePattern(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the source text of the pattern.
func (p *Pattern) String() string {
	return p.raw
}

// Names returns the placeholder names in declaration order.
func (p *Pattern) Names() []string {
	return append([]string(nil), p.names...)
}

// literalLen is the number of literal bytes in the pattern.
func (p *Pattern) literalLen() int {
	n := 0
	for _, l := range p.literals {
		n += len(l)
	}
	return n
}

// Match reports whether url can be partitioned exactly into the pattern's
// literals and placeholder spans. The final literal is anchored as a suffix
// and each inner literal binds at its leftmost occurrence; placing inner
// literals leftmost never rules out a partition, so one left-to-right pass
// decides the match in O(literals * len(url)). When several partitions
// exist, earlier placeholders take the shortest span.
func (p *Pattern) Match(url string) (Params, bool) {
	if len(p.names) == 0 {
		if url != p.literals[0] {
			return nil, false
		}
		return Params{}, true
	}
	head, tail := p.literals[0], p.literals[len(p.literals)-1]
	if len(url) < len(head)+len(tail) || !strings.HasPrefix(url, head) || !strings.HasSuffix(url, tail) {
		return nil, false
	}
	rest := url[len(head) : len(url)-len(tail)]

	params := make(Params, len(p.names))
	last := len(p.names) - 1
	for i, name := range p.names[:last] {
		lit := p.literals[i+1]
		j := strings.Index(rest, lit)
		if j < 0 {
			return nil, false
		}
		params[name] = rest[:j]
		rest = rest[j+len(lit):]
	}
	params[p.names[last]] = rest
	return params, true
}
