// Package state records which manifest executions have been loaded for each
// billing month so reruns skip work that is already done.
package state

import (
	"encoding/json"
	"fmt"
	"sort"
)

// State maps a billing month (YYYY-MM) to the execution ids loaded for it,
// in load order.
type State map[string][]string

// Has reports whether id was loaded for month.
func (s State) Has(month, id string) bool {
	for _, loaded := range s[month] {
		if loaded == id {
			return true
		}
	}
	return false
}

// Add records id for month unless it is already present.
func (s State) Add(month, id string) bool {
	if s.Has(month, id) {
		return false
	}
	s[month] = append(s[month], id)
	return true
}

func (s State) Clone() State {
	c := make(State, len(s))
	for month, ids := range s {
		c[month] = append([]string(nil), ids...)
	}
	return c
}

// Months returns the billing months newest first.
func (s State) Months() []string {
	months := make([]string, 0, len(s))
	for m := range s {
		months = append(months, m)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(months)))
	return months
}

// legacyEntry is the single execution layout written by earlier releases.
type legacyEntry struct {
	AssemblyID  string `json:"assembly_id"`
	RunID       string `json:"run_id"`
	ExecutionID string `json:"execution_id"`
	LoadedAt    string `json:"loaded_at"`
}

func (e legacyEntry) id() string {
	switch {
	case e.ExecutionID != "":
		return e.ExecutionID
	case e.AssemblyID != "":
		return e.AssemblyID
	}
	return e.RunID
}

// UnmarshalJSON accepts both {"2025-09": ["id", ...]} and the legacy
// {"2025-09": {"assembly_id": "id", "loaded_at": "..."}} layout.
func (s *State) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(State, len(raw))
	for month, value := range raw {
		var ids []string
		if err := json.Unmarshal(value, &ids); err == nil {
			for _, id := range ids {
				out.Add(month, id)
			}
			continue
		}
		var entry legacyEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			return fmt.Errorf("invalid state for %s: %w", month, err)
		}
		if entry.id() == "" {
			return fmt.Errorf("invalid state for %s: no execution id", month)
		}
		out.Add(month, entry.id())
	}
	*s = out
	return nil
}

// Decode parses a serialized state. Empty input is an empty state.
func Decode(data []byte) (State, error) {
	if len(data) == 0 {
		return State{}, nil
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("could not decode state: %w", err)
	}
	return s, nil
}

func Encode(s State) ([]byte, error) {
	if s == nil {
		s = State{}
	}
	return json.MarshalIndent(s, "", "  ")
}
