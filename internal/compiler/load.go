package compiler

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// CompileBytes compiles one CUE source. filename is used in positions.
func CompileBytes(ctx *cue.Context, filename string, src []byte) (*Document, error) {
	return Compile(ctx.CompileBytes(src, cue.Filename(filename)))
}

// LoadFiles compiles each file on its own and merges the declarations in
// argument order. Files do not share a CUE package, so one file cannot
// reference another's definitions.
func LoadFiles(paths ...string) (*Document, error) {
	ctx := cuecontext.New()
	doc := &Document{}
	for _, p := range paths {
		src, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read spec %s: %w", p, err)
		}
		part, err := CompileBytes(ctx, p, src)
		if err != nil {
			return nil, err
		}
		doc.Merge(part)
	}
	return doc, nil
}
