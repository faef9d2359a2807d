package config

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
)

// ValidationError is one problem found in a configuration source.
type ValidationError struct {
	File    string
	Line    int
	Column  int
	Message string
}

func (e ValidationError) String() string {
	if e.File == "" {
		return e.Message
	}
	return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
}

// ValidationErrors collects the problems of one source.
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	msgs := make([]string, len(ve))
	for i, e := range ve {
		msgs[i] = e.String()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// CUEParser checks CUE member files against the member schema.
type CUEParser struct {
	ctx    *cue.Context
	member cue.Value
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() (*CUEParser, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(memberSchema, cue.Filename("member-schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile member schema: %w", err)
	}
	return &CUEParser{
		ctx:    ctx,
		member: schema.LookupPath(cue.ParsePath("#Member")),
	}, nil
}

// Parse unifies content with the member schema and renders the concrete
// result as YAML, ready for the YAML decoder.
func (cp *CUEParser) Parse(filename string, content []byte) ([]byte, error) {
	val := cp.ctx.CompileBytes(content, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, cp.convertCUEErrors(err)
	}

	unified := cp.member.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, cp.convertCUEErrors(err)
	}

	out, err := cueyaml.Encode(unified)
	if err != nil {
		return nil, fmt.Errorf("failed to export %s: %w", filename, err)
	}
	return out, nil
}

func (cp *CUEParser) convertCUEErrors(err error) ValidationErrors {
	var out ValidationErrors
	for _, e := range errors.Errors(err) {
		ve := ValidationError{Message: errors.Details(e, nil)}
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}
	return out
}
