package util

import (
	"fmt"
	"strings"
)

// Template is a parsed prompt template using single-brace placeholders such
// as "Translate to French: {input}". Literal braces are written doubled
// ("{{" and "}}"). Placeholder names are identifiers ([A-Za-z_][A-Za-z0-9_]*).
type Template struct {
	text     string
	segments []segment
}

type segment struct {
	literal string
	name    string // non-empty for placeholders
}

// TemplateSyntaxError describes where a template failed to parse.
type TemplateSyntaxError struct {
	Offset  int
	Message string
}

func (e *TemplateSyntaxError) Error() string {
	return fmt.Sprintf("offset %d: %s", e.Offset, e.Message)
}

// MissingVariableError is returned by Render when a placeholder has no value.
type MissingVariableError struct {
	Name string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("missing value for placeholder {%s}", e.Name)
}

// ParseTemplate parses text into a Template.
func ParseTemplate(text string) (*Template, error) {
	t := &Template{text: text}
	var lit strings.Builder

	flush := func() {
		if lit.Len() > 0 {
			t.segments = append(t.segments, segment{literal: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(text); i++ {
		c := text[i]
		switch c {
		case '{':
			if i+1 < len(text) && text[i+1] == '{' {
				lit.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(text[i+1:], '}')
			if end < 0 {
				return nil, &TemplateSyntaxError{Offset: i, Message: "unclosed placeholder"}
			}
			name := text[i+1 : i+1+end]
			if !isIdentifier(name) {
				return nil, &TemplateSyntaxError{Offset: i, Message: fmt.Sprintf("invalid placeholder name %q", name)}
			}
			flush()
			t.segments = append(t.segments, segment{name: name})
			i += end + 1
		case '}':
			if i+1 < len(text) && text[i+1] == '}' {
				lit.WriteByte('}')
				i++
				continue
			}
			return nil, &TemplateSyntaxError{Offset: i, Message: "unmatched '}'"}
		default:
			lit.WriteByte(c)
		}
	}
	flush()

	return t, nil
}

// Vars returns the distinct placeholder names in order of first appearance.
func (t *Template) Vars() []string {
	seen := map[string]bool{}
	var names []string
	for _, s := range t.segments {
		if s.name != "" && !seen[s.name] {
			seen[s.name] = true
			names = append(names, s.name)
		}
	}
	return names
}

// Has reports whether the template references the named placeholder.
func (t *Template) Has(name string) bool { return t.Count(name) > 0 }

// Count returns how often the named placeholder occurs.
func (t *Template) Count(name string) int {
	n := 0
	for _, s := range t.segments {
		if s.name == name {
			n++
		}
	}
	return n
}

// String returns the original template text.
func (t *Template) String() string { return t.text }

// Render substitutes every placeholder with its value from vars.
func (t *Template) Render(vars map[string]string) (string, error) {
	var sb strings.Builder
	for _, s := range t.segments {
		if s.name == "" {
			sb.WriteString(s.literal)
			continue
		}
		v, ok := vars[s.name]
		if !ok {
			return "", &MissingVariableError{Name: s.name}
		}
		sb.WriteString(v)
	}
	return sb.String(), nil
}

// RenderTemplate parses and renders text in one step.
func RenderTemplate(text string, vars map[string]string) (string, error) {
	t, err := ParseTemplate(text)
	if err != nil {
		return "", err
	}
	return t.Render(vars)
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
