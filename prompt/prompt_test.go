/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package prompt

import (
	"strings"
	"testing"
)

func TestBuildRequiresAllBindings(t *testing.T) {
	p := MustNew("Task: {{task}}\nResponse: {{response}}")

	if _, err := p.Build(); err == nil {
		t.Error("Expected error building with unbound placeholders")
	}

	p2, err := p.BindText("task", "write a poem")
	if err != nil {
		t.Fatalf("BindText failed: %v", err)
	}
	if _, err := p2.Build(); err == nil {
		t.Error("Expected error with one placeholder still unbound")
	}

	p3, err := p2.BindText("response", "roses are red")
	if err != nil {
		t.Fatalf("BindText failed: %v", err)
	}
	got, err := p3.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	want := "Task: write a poem\nResponse: roses are red"
	if got != want {
		t.Errorf("Build: got %q, wanted %q", got, want)
	}
}

func TestBindingIsImmutable(t *testing.T) {
	base := MustNew("{{x}}")
	a, err := base.BindText("x", "first")
	if err != nil {
		t.Fatalf("BindText failed: %v", err)
	}
	b, err := base.BindText("x", "second")
	if err != nil {
		t.Fatalf("BindText on base after prior bind failed: %v", err)
	}

	gotA, _ := a.Build()
	gotB, _ := b.Build()
	if gotA != "first" || gotB != "second" {
		t.Errorf("Derived prompts interfered: %q / %q", gotA, gotB)
	}
}

func TestDoubleBindRejected(t *testing.T) {
	p, err := MustNew("{{x}}").BindText("x", "v")
	if err != nil {
		t.Fatalf("BindText failed: %v", err)
	}
	if _, err := p.BindText("x", "again"); err == nil {
		t.Error("Expected error rebinding a bound placeholder")
	}
}

func TestBindUnknownPlaceholder(t *testing.T) {
	if _, err := MustNew("plain").BindText("missing", "v"); err == nil {
		t.Error("Expected error binding unknown placeholder")
	}
}

func TestBindSectionEscapes(t *testing.T) {
	p, err := MustNew("{{answer}}").BindSection("answer", "a <b> & c")
	if err != nil {
		t.Fatalf("BindSection failed: %v", err)
	}
	got, err := p.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !strings.HasPrefix(got, "<answer>") || !strings.HasSuffix(got, "</answer>") {
		t.Errorf("Section not wrapped: %q", got)
	}
	if strings.Contains(got, "<b>") {
		t.Errorf("Content not escaped: %q", got)
	}
}

func TestBindJSON(t *testing.T) {
	p, err := MustNew("{{payload}}").BindJSON("payload", map[string]int{"score": 7})
	if err != nil {
		t.Fatalf("BindJSON failed: %v", err)
	}
	got, err := p.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !strings.Contains(got, `"score": 7`) {
		t.Errorf("JSON binding missing content: %q", got)
	}
}

func TestMalformedTemplates(t *testing.T) {
	tests := []struct {
		name     string
		template string
	}{{
		name:     "unclosed placeholder",
		template: "hello {{name",
	}, {
		name:     "empty identifier",
		template: "hello {{}}",
	}, {
		name:     "leading digit",
		template: "hello {{1abc}}",
	}}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.template); err == nil {
				t.Errorf("Expected error for template %q", tc.template)
			}
		})
	}
}
