package dispatch

import "strings"

// OperatorName identifies an operator: a namespaced name plus an overload
// discriminator. It is the unique key for an operator entry and is immutable
// once created.
type OperatorName struct {
	Name     string // e.g. "loom::add"
	Overload string // e.g. "out"; empty for the base overload
}

// ParseName parses "name" or "name.overload" into an OperatorName.
func ParseName(s string) OperatorName {
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		return OperatorName{Name: s[:i], Overload: s[i+1:]}
	}
	return OperatorName{Name: s}
}

// IsZero reports whether the name is empty.
func (n OperatorName) IsZero() bool {
	return n.Name == ""
}

// String returns "name" or "name.overload".
func (n OperatorName) String() string {
	if n.Overload == "" {
		return n.Name
	}
	return n.Name + "." + n.Overload
}
