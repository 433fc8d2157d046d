package dispatch

import (
	"fmt"
	"strings"
)

// AliasAnalysisKind classifies how an operator's arguments and results may
// alias, for the benefit of graph-level optimizations.
type AliasAnalysisKind int

// Alias-analysis classifications. AliasDefault means the registration site
// never specified one.
const (
	AliasDefault AliasAnalysisKind = iota
	AliasConservative
	AliasFromSchema
	AliasPure
)

// String returns a human-readable name for the kind.
func (k AliasAnalysisKind) String() string {
	switch k {
	case AliasDefault:
		return "default"
	case AliasConservative:
		return "conservative"
	case AliasFromSchema:
		return "from_schema"
	case AliasPure:
		return "pure"
	default:
		return "unknown"
	}
}

// ParseAliasAnalysisKind parses the manifest spelling of a kind.
// The empty string parses as AliasDefault.
func ParseAliasAnalysisKind(s string) (AliasAnalysisKind, error) {
	switch s {
	case "", "default":
		return AliasDefault, nil
	case "conservative":
		return AliasConservative, nil
	case "from_schema":
		return AliasFromSchema, nil
	case "pure":
		return AliasPure, nil
	default:
		return AliasDefault, fmt.Errorf("unknown alias analysis kind %q", s)
	}
}

// FunctionSchema declares an operator's interface contract: its name, the
// exact textual signature, and an alias-analysis classification. Signature
// equality is exact string equality; this package never interprets argument
// types.
type FunctionSchema struct {
	name      OperatorName
	signature string
	alias     AliasAnalysisKind
}

// NewSchema builds a schema from its parts. The signature is stored as
// given, trimmed of surrounding whitespace.
func NewSchema(name OperatorName, signature string, alias AliasAnalysisKind) FunctionSchema {
	return FunctionSchema{name: name, signature: strings.TrimSpace(signature), alias: alias}
}

// ParseSchema parses a declaration like
//
//	"loom::add.out(Tensor a, Tensor b) -> Tensor"
//
// into a schema. Everything before the first '(' is the operator name
// (with optional ".overload" suffix); the rest is the opaque signature.
func ParseSchema(decl string, alias AliasAnalysisKind) (FunctionSchema, error) {
	i := strings.IndexByte(decl, '(')
	if i <= 0 {
		return FunctionSchema{}, fmt.Errorf("invalid schema declaration %q: missing argument list", decl)
	}
	name := ParseName(strings.TrimSpace(decl[:i]))
	if name.IsZero() {
		return FunctionSchema{}, fmt.Errorf("invalid schema declaration %q: empty operator name", decl)
	}
	return NewSchema(name, decl[i:], alias), nil
}

// Name returns the operator name the schema declares.
func (s FunctionSchema) Name() OperatorName {
	return s.name
}

// Signature returns the textual signature.
func (s FunctionSchema) Signature() string {
	return s.signature
}

// AliasAnalysis returns the schema's alias-analysis classification.
func (s FunctionSchema) AliasAnalysis() AliasAnalysisKind {
	return s.alias
}

// IsDefaultAliasAnalysisKind reports whether the registration site left the
// classification unspecified.
func (s FunctionSchema) IsDefaultAliasAnalysisKind() bool {
	return s.alias == AliasDefault
}

// Equal reports whether two schemas declare the same name and signature.
// Alias-analysis kinds are reconciled separately; they do not participate.
func (s FunctionSchema) Equal(other FunctionSchema) bool {
	return s.name == other.name && s.signature == other.signature
}

// String returns the full declaration text.
func (s FunctionSchema) String() string {
	return s.name.String() + s.signature
}
