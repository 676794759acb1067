package stream

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"math/rand/v2"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

//go:embed responses/*.md
var responseFiles embed.FS

// Source produces the full body of a reply
type Source interface {
	Response(ctx context.Context, prompt string) (string, error)
}

// SourceFunc adapts a function to Source
type SourceFunc func(ctx context.Context, prompt string) (string, error)

func (f SourceFunc) Response(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Fixed returns a source that always answers with body
func Fixed(body string) Source {
	return SourceFunc(func(context.Context, string) (string, error) { return body, nil })
}

// DefaultResponses returns the built-in canned markdown answers in a stable order
func DefaultResponses() []string {
	entries, err := fs.Glob(responseFiles, "responses/*.md")
	if err != nil {
		return nil
	}
	sort.Strings(entries)

	out := make([]string, 0, len(entries))
	for _, name := range entries {
		data, err := responseFiles.ReadFile(name)
		if err != nil {
			continue
		}
		out = append(out, string(data))
	}
	return out
}

// CannedSource answers every prompt with one of a fixed set of bodies
type CannedSource struct {
	responses []string
	pick      func(n int) int
}

// NewCannedSource creates a source over responses, or over DefaultResponses
// when none are given. Bodies are picked uniformly at random.
func NewCannedSource(responses ...string) *CannedSource {
	if len(responses) == 0 {
		responses = DefaultResponses()
	}
	return &CannedSource{responses: responses, pick: rand.IntN}
}

// WithPick replaces the selection policy. pick receives the corpus size and
// returns an index.
func (c *CannedSource) WithPick(pick func(n int) int) *CannedSource {
	c.pick = pick
	return c
}

func (c *CannedSource) Response(ctx context.Context, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(c.responses) == 0 {
		return "", errors.New("no canned responses configured")
	}
	i := c.pick(len(c.responses))
	if i < 0 || i >= len(c.responses) {
		i = 0
	}
	return c.responses[i], nil
}

// Splitter cuts a body into reveal units whose concatenation is the body
type Splitter func(body string) []string

// Runes reveals one character at a time
func Runes(body string) []string {
	units := make([]string, 0, utf8.RuneCountInString(body))
	for i := 0; i < len(body); {
		_, size := utf8.DecodeRuneInString(body[i:])
		units = append(units, body[i:i+size])
		i += size
	}
	return units
}

// Words reveals one word at a time, each carrying its trailing whitespace.
// Leading whitespace belongs to the first word.
func Words(body string) []string {
	var units []string
	start, seenWord, prevSpace := 0, false, false
	for i, r := range body {
		space := unicode.IsSpace(r)
		if !space && prevSpace && seenWord {
			units = append(units, body[start:i])
			start = i
		}
		if !space {
			seenWord = true
		}
		prevSpace = space
	}
	if start < len(body) {
		units = append(units, body[start:])
	}
	return units
}

// SplitterByName resolves a configured splitter name
func SplitterByName(name string) (Splitter, bool) {
	switch strings.ToLower(name) {
	case "", "runes", "chars":
		return Runes, true
	case "words":
		return Words, true
	}
	return nil, false
}
