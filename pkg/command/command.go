// Package command parses psu administration scripts into typed commands
// and applies them to a selection transaction.
package command

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
)

// ErrSyntax marks a line that does not form a valid command
var ErrSyntax = errors.New("syntax error")

// Prefix is the optional first word of every command
const Prefix = "psu"

// Command is one parsed script line
type Command struct {
	// Line is the 1-based line number in the script, 0 for single commands
	Line int
	Text string

	// Verb is the command name without the prefix, e.g. "create unit"
	Verb    string
	Args    []string
	Options map[string]string
}

// Has reports whether the option was given, with or without a value
func (c *Command) Has(name string) bool {
	_, ok := c.Options[name]
	return ok
}

// Option returns the value of an option and whether it was given
func (c *Command) Option(name string) (string, bool) {
	v, ok := c.Options[name]
	return v, ok
}

func (c *Command) String() string {
	if c.Text != "" {
		return c.Text
	}
	parts := []string{Prefix, c.Verb}
	parts = append(parts, c.Args...)
	for _, name := range slices.Sorted(maps.Keys(c.Options)) {
		if v := c.Options[name]; v != "" {
			parts = append(parts, "-"+name+"="+v)
		} else {
			parts = append(parts, "-"+name)
		}
	}
	return strings.Join(parts, " ")
}

// SyntaxError describes a line that failed to parse
type SyntaxError struct {
	Line int
	Text string
	Msg  string
}

func (e *SyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s: %q", e.Line, e.Msg, e.Text)
	}
	return fmt.Sprintf("%s: %q", e.Msg, e.Text)
}

func (e *SyntaxError) Unwrap() error { return ErrSyntax }

// Parse parses a single command. Blank lines and comments yield nil.
func Parse(line string) (*Command, error) {
	return parseLine(0, line)
}

// ParseScript parses every command in r. Parsing stops at the first bad line.
func ParseScript(r io.Reader) ([]*Command, error) {
	var cmds []*Command
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		n++
		c, err := parseLine(n, sc.Text())
		if err != nil {
			return nil, err
		}
		if c != nil {
			cmds = append(cmds, c)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return cmds, nil
}

func parseLine(n int, line string) (*Command, error) {
	text := strings.TrimSpace(line)
	if text == "" || strings.HasPrefix(text, "#") {
		return nil, nil
	}
	fail := func(format string, args ...any) error {
		return &SyntaxError{Line: n, Text: text, Msg: fmt.Sprintf(format, args...)}
	}

	var words []string
	opts := make(map[string]string)
	for i, tok := range strings.Fields(text) {
		if i == 0 && tok == Prefix {
			continue
		}
		if len(tok) > 1 && tok[0] == '-' {
			name, value, _ := strings.Cut(tok[1:], "=")
			if name == "" {
				return nil, fail("empty option name")
			}
			if _, dup := opts[name]; dup {
				return nil, fail("option -%s given twice", name)
			}
			opts[name] = value
			continue
		}
		words = append(words, tok)
	}
	if len(words) == 0 {
		return nil, fail("missing command")
	}

	verb, args := words[0], words[1:]
	if _, ok := verbs[verb]; !ok && len(args) > 0 {
		verb, args = words[0]+" "+words[1], words[2:]
	}
	c := &Command{Line: n, Text: text, Verb: verb, Args: args, Options: opts}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// validate checks the verb, the argument count and the option names
func (c *Command) validate() error {
	v, ok := verbs[c.Verb]
	if !ok {
		return syntaxf(c, "unknown command %q", c.Verb)
	}
	if len(c.Args) < v.minArgs || (v.maxArgs >= 0 && len(c.Args) > v.maxArgs) {
		return syntaxf(c, "usage: %s", v.usage)
	}
	for name := range c.Options {
		if !slices.Contains(v.options, name) {
			return syntaxf(c, "%s: unknown option -%s", c.Verb, name)
		}
	}
	return nil
}
