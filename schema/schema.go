/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package schema derives JSON schemas from Go types for the structured
// replies demanded of evaluator models.
package schema

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Generator wraps jsonschema.Reflector with the defaults reply schemas need:
// self-contained output with required fields driven by struct tags.
type Generator struct {
	reflector jsonschema.Reflector
}

// NewGenerator constructs a generator wired for reply schemas.
func NewGenerator() *Generator {
	return &Generator{
		reflector: jsonschema.Reflector{
			RequiredFromJSONSchemaTags: true,
			ExpandedStruct:             true,
			DoNotReference:             true,
		},
	}
}

// Reflect returns the JSON schema for the provided value.
func (g *Generator) Reflect(v any) *jsonschema.Schema {
	return g.reflector.Reflect(v)
}

// Reflect derives the JSON schema for the provided value using a default
// generator.
func Reflect(v any) *jsonschema.Schema {
	return NewGenerator().Reflect(v)
}

// ReflectType allocates a zero value of T and reflects it to a schema.
func ReflectType[T any]() *jsonschema.Schema {
	var zero T
	return Reflect(&zero)
}

// MustJSON renders the schema of T as indented JSON, panicking on
// marshaling failure. Intended for package-level prompt construction.
func MustJSON[T any]() string {
	b, err := json.MarshalIndent(ReflectType[T](), "", "  ")
	if err != nil {
		panic(err)
	}
	return string(b)
}
