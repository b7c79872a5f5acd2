package manifest

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// schema constrains a decoded manifest after defaults are applied.
const schema = `
project: {
	name:     string
	document: string & !=""
}
runtime: {
	compatibility:   bool
	"work-fraction": number & >0 & <=1
	"warp-time-ms":  int & >=0 & <=60000
	strict:          bool
}
log: {
	verbosity: int & >=-4 & <=5
	file:      string
}
`

// Validate checks a manifest against the schema.
func Validate(m *Manifest) error {
	ctx := cuecontext.New()
	s := ctx.CompileString(schema, cue.Filename("blockvm.cue"))
	if err := s.Err(); err != nil {
		return fmt.Errorf("manifest schema: %w", err)
	}
	v := ctx.Encode(m)
	if err := v.Err(); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := s.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid manifest: %w", err)
	}
	return nil
}
