package sandbox

import "encoding/json"

// State is the set of named values carried between sequential code runs.
// Values stay raw JSON so nothing the interpreter produced is re-encoded.
type State map[string]json.RawMessage

// Clone returns a copy sharing no structure with s.
func (s State) Clone() State {
	if s == nil {
		return nil
	}
	out := make(State, len(s))
	for k, v := range s {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// Merge returns a state where every key from updates replaces the key of the
// same name in s. Keys absent from updates are kept unchanged.
func (s State) Merge(updates State) State {
	out := s.Clone()
	if out == nil {
		out = make(State, len(updates))
	}
	for k, v := range updates {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}
