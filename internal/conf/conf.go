// Package conf stores, retrieves and validates monitor parameters.
//
// Parameters come from a TOML configuration file and are grouped into
// parameter groups ([General], [Onda], ...). Lookups distinguish three
// failure classes: a missing group, a missing required parameter, and a
// parameter of the wrong type. Optional lookups report absence instead of
// failing.
package conf

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/banshee-data/bragg.report/internal/om/omerr"
)

// Sentinel causes distinguishable with errors.Is. Every error returned by
// this package also carries omerr.KindConfig.
var (
	ErrMissingGroup     = errors.New("parameter group not found")
	ErrMissingParameter = errors.New("required parameter not found")
	ErrWrongType        = errors.New("wrong parameter type")
)

// MonitorParams holds the full parsed configuration document.
type MonitorParams struct {
	groups map[string]map[string]interface{}
}

// Load reads and parses a TOML configuration file.
func Load(path string) (*MonitorParams, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, omerr.Wrap(omerr.KindConfig, err, "cannot open or read the configuration file %s", path)
	}
	return Parse(string(raw))
}

// Parse parses a TOML document held in memory.
func Parse(doc string) (*MonitorParams, error) {
	var groups map[string]map[string]interface{}
	if _, err := toml.Decode(doc, &groups); err != nil {
		return nil, omerr.Wrap(omerr.KindConfig, err, "syntax error in the configuration file")
	}
	if groups == nil {
		groups = map[string]map[string]interface{}{}
	}
	return &MonitorParams{groups: groups}, nil
}

func (p *MonitorParams) lookup(group, param string) (interface{}, bool, error) {
	g, ok := p.groups[group]
	if !ok {
		return nil, false, omerr.Wrap(omerr.KindConfig, ErrMissingGroup,
			"parameter group [%s] is not in the configuration file", group)
	}
	v, ok := g[param]
	return v, ok, nil
}

func (p *MonitorParams) required(group, param string) (interface{}, error) {
	v, ok, err := p.lookup(group, param)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, omerr.Wrap(omerr.KindConfig, ErrMissingParameter,
			"parameter %s in group [%s] was not found, but is required", param, group)
	}
	return v, nil
}

func wrongType(group, param, want string, got interface{}) error {
	return omerr.Wrap(omerr.KindConfig, ErrWrongType,
		"wrong type for parameter %s in group [%s]: should be %s, is %T", param, group, want, got)
}

func asInt(group, param string, v interface{}) (int, error) {
	i, ok := v.(int64)
	if !ok {
		return 0, wrongType(group, param, "int", v)
	}
	return int(i), nil
}

func asFloat(group, param string, v interface{}) (float64, error) {
	// TOML distinguishes ints from floats; accept both where a float is
	// requested, as the original parameter service does.
	switch t := v.(type) {
	case float64:
		return t, nil
	case int64:
		return float64(t), nil
	default:
		return 0, wrongType(group, param, "float", v)
	}
}

func asString(group, param string, v interface{}) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", wrongType(group, param, "string", v)
	}
	return s, nil
}

func asBool(group, param string, v interface{}) (bool, error) {
	b, ok := v.(bool)
	if !ok {
		return false, wrongType(group, param, "bool", v)
	}
	return b, nil
}

func asIntList(group, param string, v interface{}) ([]int, error) {
	items, ok := v.([]interface{})
	if !ok {
		return nil, wrongType(group, param, "list of int", v)
	}
	out := make([]int, 0, len(items))
	for _, item := range items {
		i, ok := item.(int64)
		if !ok {
			return nil, wrongType(group, param, "list of int", item)
		}
		out = append(out, int(i))
	}
	return out, nil
}

// RequiredInt retrieves a required integer parameter.
func (p *MonitorParams) RequiredInt(group, param string) (int, error) {
	v, err := p.required(group, param)
	if err != nil {
		return 0, err
	}
	return asInt(group, param, v)
}

// OptionalInt retrieves an optional integer parameter. The second return
// value reports whether the parameter was present.
func (p *MonitorParams) OptionalInt(group, param string) (int, bool, error) {
	v, ok, err := p.lookup(group, param)
	if err != nil || !ok {
		return 0, false, err
	}
	i, err := asInt(group, param, v)
	return i, err == nil, err
}

// RequiredFloat retrieves a required float parameter. Integer values are
// accepted and converted.
func (p *MonitorParams) RequiredFloat(group, param string) (float64, error) {
	v, err := p.required(group, param)
	if err != nil {
		return 0, err
	}
	return asFloat(group, param, v)
}

// OptionalFloat retrieves an optional float parameter.
func (p *MonitorParams) OptionalFloat(group, param string) (float64, bool, error) {
	v, ok, err := p.lookup(group, param)
	if err != nil || !ok {
		return 0, false, err
	}
	f, err := asFloat(group, param, v)
	return f, err == nil, err
}

// RequiredString retrieves a required string parameter.
func (p *MonitorParams) RequiredString(group, param string) (string, error) {
	v, err := p.required(group, param)
	if err != nil {
		return "", err
	}
	return asString(group, param, v)
}

// OptionalString retrieves an optional string parameter.
func (p *MonitorParams) OptionalString(group, param string) (string, bool, error) {
	v, ok, err := p.lookup(group, param)
	if err != nil || !ok {
		return "", false, err
	}
	s, err := asString(group, param, v)
	return s, err == nil, err
}

// RequiredBool retrieves a required boolean parameter.
func (p *MonitorParams) RequiredBool(group, param string) (bool, error) {
	v, err := p.required(group, param)
	if err != nil {
		return false, err
	}
	return asBool(group, param, v)
}

// OptionalBool retrieves an optional boolean parameter.
func (p *MonitorParams) OptionalBool(group, param string) (bool, bool, error) {
	v, ok, err := p.lookup(group, param)
	if err != nil || !ok {
		return false, false, err
	}
	b, err := asBool(group, param, v)
	return b, err == nil, err
}

// RequiredStringList retrieves a required list-of-strings parameter.
func (p *MonitorParams) RequiredStringList(group, param string) ([]string, error) {
	v, err := p.required(group, param)
	if err != nil {
		return nil, err
	}
	items, ok := v.([]interface{})
	if !ok {
		return nil, wrongType(group, param, "list of string", v)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, wrongType(group, param, "list of string", item)
		}
		out = append(out, s)
	}
	return out, nil
}

// OptionalIntList retrieves an optional list-of-ints parameter. Absence is
// reported as an empty list.
func (p *MonitorParams) OptionalIntList(group, param string) ([]int, error) {
	v, ok, err := p.lookup(group, param)
	if err != nil || !ok {
		return nil, err
	}
	return asIntList(group, param, v)
}

// HasGroup reports whether a parameter group exists in the document.
func (p *MonitorParams) HasGroup(group string) bool {
	_, ok := p.groups[group]
	return ok
}

// PositiveInterval retrieves an optional sending-interval parameter.
// Absence means "disabled" (returned as 0); a present value must be a
// positive integer.
func (p *MonitorParams) PositiveInterval(group, param string) (int, error) {
	v, ok, err := p.OptionalInt(group, param)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	if v < 1 {
		return 0, omerr.Wrap(omerr.KindConfig, ErrWrongType,
			"parameter %s in group [%s] must be a positive integer, is %d", param, group, v)
	}
	return v, nil
}

// String summarizes the document for diagnostics (group names only).
func (p *MonitorParams) String() string {
	return fmt.Sprintf("MonitorParams(%d groups)", len(p.groups))
}
