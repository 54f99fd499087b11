package models

import (
	"encoding/json"
	"sort"
)

// Operator is the comparison a rule condition performs.
type Operator string

const (
	StartsWith Operator = "STARTS_WITH"
	Contains   Operator = "CONTAINS"
	Equals     Operator = "EQUALS"
	Regex      Operator = "REGEX"
)

// Condition selects transactions by one canonical field.
type Condition struct {
	Field    CanonicalField `json:"field" validate:"oneof=date payee purpose expense income"`
	Operator Operator       `json:"type" validate:"oneof=STARTS_WITH CONTAINS EQUALS REGEX"`
	Pattern  string         `json:"value"`
}

// Action rewrites one field with an expanded template. Only payee and
// purpose targets have an effect.
type Action struct {
	Target   CanonicalField `json:"targetField" validate:"oneof=date payee purpose expense income"`
	Template string         `json:"template"`
}

// Scope limits a rule to a set of mapping profiles. The zero value is
// global.
type Scope struct {
	ids map[string]struct{}
}

// Global returns a scope that applies to every import.
func Global() Scope { return Scope{} }

// RestrictedTo returns a scope limited to the given mapping profile ids.
// With no ids it is global.
func RestrictedTo(ids ...string) Scope {
	s := Scope{}
	for _, id := range ids {
		if id == "" {
			continue
		}
		if s.ids == nil {
			s.ids = make(map[string]struct{})
		}
		s.ids[id] = struct{}{}
	}
	return s
}

// IsGlobal reports whether the scope is unrestricted.
func (s Scope) IsGlobal() bool { return len(s.ids) == 0 }

// Allows reports whether a rule with this scope applies to an import done
// with the given mapping id. An empty id only passes global scopes.
func (s Scope) Allows(mappingID string) bool {
	if s.IsGlobal() {
		return true
	}
	if mappingID == "" {
		return false
	}
	_, ok := s.ids[mappingID]
	return ok
}

// MappingIDs returns the restricted ids in sorted order; nil when global.
func (s Scope) MappingIDs() []string {
	if s.IsGlobal() {
		return nil
	}
	ids := make([]string, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MarshalJSON encodes the scope as its id list; global is an empty list.
func (s Scope) MarshalJSON() ([]byte, error) {
	ids := s.MappingIDs()
	if ids == nil {
		ids = []string{}
	}
	return json.Marshal(ids)
}

// UnmarshalJSON accepts an id list, a single id string or null.
func (s *Scope) UnmarshalJSON(data []byte) error {
	var single *string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == nil {
			*s = Global()
		} else {
			*s = RestrictedTo(*single)
		}
		return nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = RestrictedTo(ids...)
	return nil
}

// Rule is one replacement rule. Rules are evaluated in slice order.
type Rule struct {
	ID        string    `json:"id"`
	Name      string    `json:"name" validate:"required"`
	Scope     Scope     `json:"mappingIds"`
	Condition Condition `json:"condition"`
	Action    Action    `json:"action"`
	Active    bool      `json:"isActive"`
}

// UnmarshalJSON decodes a rule, defaulting Active to true and accepting the
// single "mappingId" key of older rule files.
func (r *Rule) UnmarshalJSON(data []byte) error {
	type plain Rule
	aux := struct {
		*plain
		LegacyScope *Scope `json:"mappingId"`
	}{plain: (*plain)(r)}

	r.Active = true
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.LegacyScope != nil && r.Scope.IsGlobal() {
		r.Scope = *aux.LegacyScope
	}
	return nil
}
