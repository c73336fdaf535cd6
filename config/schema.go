package config

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/ast"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
)

// Schema is the CUE definition every configuration file is checked against.
// Definitions are closed, so unknown keys are rejected.
const Schema = `
#Identifier: =~"^[A-Za-z_][A-Za-z0-9_]*$"

#Config: {
	package?:     #Identifier
	name?:        string
	description?: string
	logging?: {
		level?:  "trace" | "debug" | "info" | "warn" | "error" | "fatal" | "panic" | "disabled"
		format?: "json" | "text"
		loki?: {
			enabled?: bool
			url?:     string
			labels?: {[string]: string}
		}
	}
	telemetry?: {
		enabled?:  bool
		provider?: "prometheus"
	}
	server?: {
		listen?: string
	}
	locale?: string
	location?: {
		name?:      string
		latitude?:  number & >=-90 & <=90
		longitude?: number & >=-180 & <=180
		timezone?:  string
	}
	mqtt?: {
		broker?:          string
		client_id?:       string
		username?:        string
		password?:        string
		connect_timeout?: string
		publish_timeout?: string
		qos?:             0 | 1 | 2
		retain?:          bool
		topic_prefix?:    string
	}
	rules?: [...#Rule]
	modules?: [...(string | {path: string, name?: string, description?: string})]
	hot_reload?: bool
}

#Rule: {
	id:           #Identifier
	name?:        string
	description?: string
	expression:   string & !=""
	condition?:   string
	topic?:       string
	payload?:     string
	disable?:     bool
}
`

var (
	schemaOnce  sync.Once
	schemaCtx   *cue.Context
	schemaValue cue.Value
	schemaErr   error
)

func compiledSchema() (*cue.Context, cue.Value, error) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		schemaValue = schemaCtx.CompileString(Schema, cue.Filename("config.cue"))
		schemaErr = schemaValue.Err()
	})
	return schemaCtx, schemaValue, schemaErr
}

// Validate checks one YAML document against Schema.
func Validate(filename string, data []byte) error {
	ctx, schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	file, err := extract(filename, data)
	if err != nil {
		return err
	}
	value := ctx.BuildFile(file)
	if err := value.Err(); err != nil {
		return fmt.Errorf("build %s: %w", filename, err)
	}
	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validate %s: %s", filename, cueerrors.Details(err, nil))
	}
	return nil
}

func extract(filename string, data []byte) (*ast.File, error) {
	file, err := cueyaml.Extract(filename, data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filename, err)
	}
	return file, nil
}
