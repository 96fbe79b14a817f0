/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package prompt provides template-based prompt construction with explicit
// placeholder binding. Templates declare {{name}} placeholders; every
// placeholder must be bound before Build succeeds, which keeps evaluator
// prompts from silently shipping with holes in them.
package prompt

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Prompt is a template with bindable placeholders. Bind methods return a new
// Prompt, leaving the receiver untouched, so a parsed template can be reused
// across many pairings.
type Prompt struct {
	template string
	bound    map[string]*string // nil value = declared but unbound
}

// New parses a template and records its placeholders.
func New(template string) (*Prompt, error) {
	bound := make(map[string]*string)
	if _, err := walk(template, func(name string) (string, error) {
		if _, ok := bound[name]; !ok {
			bound[name] = nil
		}
		return "", nil
	}); err != nil {
		return nil, err
	}
	return &Prompt{template: template, bound: bound}, nil
}

// MustNew is New for package-level template declarations; it panics on a
// malformed template.
func MustNew(template string) *Prompt {
	p, err := New(template)
	if err != nil {
		panic(err)
	}
	return p
}

// Placeholders returns the set of placeholder names declared by the template.
func (p *Prompt) Placeholders() map[string]struct{} {
	names := make(map[string]struct{}, len(p.bound))
	for name := range p.bound {
		names[name] = struct{}{}
	}
	return names
}

// BindText binds a raw text value to a placeholder.
func (p *Prompt) BindText(name, value string) (*Prompt, error) {
	return p.bind(name, value)
}

// BindSection binds a value wrapped in an XML element named after the
// placeholder, with the content escaped. Sections keep untrusted response
// text from bleeding into the surrounding prompt structure.
func (p *Prompt) BindSection(name, value string) (*Prompt, error) {
	var sb strings.Builder
	sb.WriteString("<" + name + ">\n")
	if err := xml.EscapeText(&sb, []byte(value)); err != nil {
		return nil, fmt.Errorf("escaping section %q: %w", name, err)
	}
	sb.WriteString("\n</" + name + ">")
	return p.bind(name, sb.String())
}

// BindJSON binds structured data marshaled as indented JSON.
func (p *Prompt) BindJSON(name string, data any) (*Prompt, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling binding %q: %w", name, err)
	}
	return p.bind(name, string(b))
}

func (p *Prompt) bind(name, value string) (*Prompt, error) {
	prev, ok := p.bound[name]
	if !ok {
		return nil, fmt.Errorf("no placeholder %q in template", name)
	}
	if prev != nil {
		return nil, fmt.Errorf("placeholder %q already bound", name)
	}
	next := &Prompt{template: p.template, bound: make(map[string]*string, len(p.bound))}
	for k, v := range p.bound {
		next.bound[k] = v
	}
	next.bound[name] = &value
	return next, nil
}

// Build renders the template, failing if any placeholder is still unbound.
func (p *Prompt) Build() (string, error) {
	return walk(p.template, func(name string) (string, error) {
		val := p.bound[name]
		if val == nil {
			return "", fmt.Errorf("placeholder %q is unbound", name)
		}
		return *val, nil
	})
}

// resolve supplies the replacement for a placeholder name during a walk.
type resolve func(name string) (string, error)

// walk tokenizes the template, calling fn for each {{name}} placeholder.
func walk(template string, fn resolve) (string, error) {
	var out strings.Builder
	for len(template) > 0 {
		start := strings.Index(template, "{{")
		if start == -1 {
			out.WriteString(template)
			break
		}
		out.WriteString(template[:start])

		end := strings.Index(template[start:], "}}")
		if end == -1 {
			return "", errors.New("unclosed placeholder: missing '}}'")
		}
		end += start + 2

		name := strings.TrimSpace(template[start+2 : end-2])
		if !validIdentifier(name) {
			return "", fmt.Errorf("invalid placeholder identifier %q", name)
		}
		replacement, err := fn(name)
		if err != nil {
			return "", err
		}
		out.WriteString(replacement)
		template = template[end:]
	}
	return out.String(), nil
}

// validIdentifier requires a leading letter followed by letters, digits, or
// underscores.
func validIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if i == 0 {
			if !unicode.IsLetter(r) {
				return false
			}
			continue
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return false
		}
	}
	return true
}
