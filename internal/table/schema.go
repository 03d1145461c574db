package table

import (
	"encoding/json"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// CompileSchema compiles a CUE schema definition into a Validator. The
// record is accepted when it unifies with the schema into a concrete
// value.
//
// Example schema:
//
//	{
//		key:  string
//		name: string
//		bio?: string
//	}
func CompileSchema(src string) (Validator, error) {
	cctx := cuecontext.New()
	schema := cctx.CompileString(src)
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	// A cue.Context is not safe for concurrent compilation; indexing
	// passes validate from multiple goroutines.
	var mu sync.Mutex
	return func(record json.RawMessage) bool {
		mu.Lock()
		defer mu.Unlock()

		data := cctx.CompileBytes(record)
		if data.Err() != nil {
			return false
		}
		unified := schema.Unify(data)
		return unified.Validate(cue.Concrete(true), cue.Final()) == nil
	}, nil
}
