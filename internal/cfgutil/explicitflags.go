// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

// ExplicitString is a string option that remembers whether go-flags set it
// from the command line or config file, so a default data directory can be
// told apart from the same path given explicitly.
type ExplicitString struct {
	Value string
	set   bool
}

// NewExplicitString returns an unset option holding the default value.
func NewExplicitString(defaultValue string) *ExplicitString {
	return &ExplicitString{Value: defaultValue}
}

// ExplicitlySet reports whether the option was parsed rather than left at
// its default.
func (e *ExplicitString) ExplicitlySet() bool {
	return e.set
}

// MarshalFlag implements the flags.Marshaler interface.
func (e *ExplicitString) MarshalFlag() (string, error) {
	return e.Value, nil
}

// UnmarshalFlag implements the flags.Unmarshaler interface.
func (e *ExplicitString) UnmarshalFlag(value string) error {
	e.Value, e.set = value, true
	return nil
}
