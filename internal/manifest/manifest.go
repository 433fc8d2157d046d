// Package manifest loads operator declaration files and registers the
// declared schemas with a dispatcher.
//
// A manifest is a YAML document listing operator declarations:
//
//	operators:
//	  - op: "loom::add(Tensor a, Tensor b) -> Tensor"
//	    alias: from_schema
//	  - op: "loom::relu(Tensor a) -> Tensor"
package manifest

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/loom-ml/loom/internal/dispatch"
)

// Declaration is one operator schema declaration.
type Declaration struct {
	Op    string `yaml:"op"`              // full declaration, e.g. "loom::add(Tensor a, Tensor b) -> Tensor"
	Alias string `yaml:"alias,omitempty"` // alias analysis kind; empty means unspecified
}

// File is a parsed operator manifest.
type File struct {
	Operators []Declaration `yaml:"operators"`
}

// Load parses a manifest from r.
func Load(r io.Reader) (*File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	return &f, nil
}

// LoadFile parses the manifest at path.
func LoadFile(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	defer fh.Close()
	return Load(fh)
}

// Schemas converts the declarations to function schemas, in file order.
func (f *File) Schemas() ([]dispatch.FunctionSchema, error) {
	schemas := make([]dispatch.FunctionSchema, 0, len(f.Operators))
	for i, decl := range f.Operators {
		kind, err := dispatch.ParseAliasAnalysisKind(decl.Alias)
		if err != nil {
			return nil, fmt.Errorf("manifest: operator %d: %w", i, err)
		}
		s, err := dispatch.ParseSchema(decl.Op, kind)
		if err != nil {
			return nil, fmt.Errorf("manifest: operator %d: %w", i, err)
		}
		schemas = append(schemas, s)
	}
	return schemas, nil
}

// Register registers every declared schema with d, in file order, and
// returns the handles. If any registration fails, the ones already made are
// unwound and no declaration from the file stays registered.
func Register(d *dispatch.Dispatcher, f *File) ([]*dispatch.RegistrationHandle, error) {
	schemas, err := f.Schemas()
	if err != nil {
		return nil, err
	}
	handles := make([]*dispatch.RegistrationHandle, 0, len(schemas))
	for _, s := range schemas {
		h, err := d.RegisterDef(s)
		if err != nil {
			for _, prev := range handles {
				prev.Deregister()
			}
			return nil, fmt.Errorf("manifest: registering %s: %w", s.Name(), err)
		}
		handles = append(handles, h)
	}
	return handles, nil
}
