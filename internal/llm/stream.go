package llm

import "sort"

// StreamFragment is one incremental unit of a streamed response:
// a TextFragment or a ToolCallFragment.
type StreamFragment interface {
	isStreamFragment()
}

// TextFragment is a piece of assistant text.
type TextFragment struct {
	Text string
}

// ToolCallFragment is a possibly partial tool call. Arguments may be a slice of
// the final JSON; fragments sharing Index (or ID when Index is unknown) belong to
// the same call.
type ToolCallFragment struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

func (TextFragment) isStreamFragment()     {}
func (ToolCallFragment) isStreamFragment() {}

// ToolCallAssembler merges split tool-call fragments into complete calls.
// The zero value is ready to use.
type ToolCallAssembler struct {
	calls   map[int]*ToolCall
	byID    map[string]int
	order   []int
	last    int
	unnamed int
}

// Add merges one fragment. Fragments are keyed by Index; a negative Index
// falls back to ID, and a fragment with neither continues the most recent
// call. The first non-empty ID and Name win and arguments are concatenated
// in arrival order.
func (a *ToolCallAssembler) Add(f ToolCallFragment) {
	if a.calls == nil {
		a.calls = make(map[int]*ToolCall)
		a.byID = make(map[string]int)
	}

	key := f.Index
	if key < 0 {
		if idx, ok := a.byID[f.ID]; ok && f.ID != "" {
			key = idx
		} else if f.ID == "" && len(a.order) > 0 {
			key = a.last
		} else {
			a.unnamed++
			key = -a.unnamed
		}
	}

	call, ok := a.calls[key]
	if !ok {
		call = &ToolCall{}
		a.calls[key] = call
		a.order = append(a.order, key)
	}
	if call.ID == "" && f.ID != "" {
		call.ID = f.ID
		a.byID[f.ID] = key
	}
	if call.Name == "" && f.Name != "" {
		call.Name = f.Name
	}
	call.Arguments += f.Arguments
	a.last = key
}

// Calls returns the assembled calls ordered by index, then arrival.
func (a *ToolCallAssembler) Calls() []ToolCall {
	if len(a.order) == 0 {
		return nil
	}
	keys := append([]int(nil), a.order...)
	sort.SliceStable(keys, func(i, j int) bool {
		ki, kj := keys[i], keys[j]
		if (ki < 0) != (kj < 0) {
			return ki >= 0
		}
		if ki < 0 {
			return ki > kj
		}
		return ki < kj
	})
	out := make([]ToolCall, 0, len(keys))
	for _, k := range keys {
		out = append(out, *a.calls[k])
	}
	return out
}
