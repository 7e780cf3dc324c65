package llm

import (
	"sort"
	"strings"
)

// demux splits one turn's event sequence into assistant text and reassembled
// tool calls. It tracks which block indices are open, enforces open/close
// pairing, and routes each delta to the component that owns its block kind.
// Indices are never reused within a turn; a delta or stop for an index with
// no open block, or a second start for a used index, fails the turn.
type demux struct {
	onText func(string)

	blocks map[int]*contentBlock
	used   map[int]bool
	acc    *toolCallAccumulator

	text     strings.Builder
	calls    []pendingEntry
	nextSeq  int
	usage    Usage
	stop     StopReason
	finished bool
}

// contentBlock is one concurrently-open unit of model output. seq records
// the announcement order for tool blocks so results can be paired back in
// the order the model asked for them.
type contentBlock struct {
	kind BlockKind
	seq  int
}

type pendingEntry struct {
	seq  int
	call PendingToolCall
}

func newDemux(onText func(string)) *demux {
	return &demux{
		onText: onText,
		blocks: make(map[int]*contentBlock),
		used:   make(map[int]bool),
		acc:    newToolCallAccumulator(),
	}
}

// feed consumes one event. A non-nil error is fatal for the turn: either a
// *ProtocolError for a malformed sequence or a *TransportError for an in-band
// error event.
func (d *demux) feed(ev Event) error {
	switch ev := ev.(type) {
	case MessageStartEvent:
		d.usage.Add(ev.Usage)

	case BlockStartEvent:
		if _, open := d.blocks[ev.Index]; open {
			return protocolErrorf("content_block_start for index %d which is already open", ev.Index)
		}
		if d.used[ev.Index] {
			return protocolErrorf("content_block_start reuses closed index %d", ev.Index)
		}
		d.used[ev.Index] = true
		block := &contentBlock{kind: ev.Kind}
		if ev.Kind == BlockToolUse {
			block.seq = d.nextSeq
			d.nextSeq++
			d.acc.start(ev.Index, ev.ToolID, ev.ToolName)
		}
		d.blocks[ev.Index] = block

	case BlockDeltaEvent:
		block, open := d.blocks[ev.Index]
		if !open {
			return protocolErrorf("content_block_delta for unopened index %d", ev.Index)
		}
		switch block.kind {
		case BlockText:
			if ev.PartialJSON != "" {
				return protocolErrorf("json delta for text block %d", ev.Index)
			}
			if ev.Text != "" {
				d.text.WriteString(ev.Text)
				if d.onText != nil {
					d.onText(ev.Text)
				}
			}
		case BlockToolUse:
			if ev.Text != "" {
				return protocolErrorf("text delta for tool block %d", ev.Index)
			}
			d.acc.append(ev.Index, ev.PartialJSON)
		default:
			// Uninterpreted block kinds are tracked but their payload is
			// dropped.
		}

	case BlockStopEvent:
		block, open := d.blocks[ev.Index]
		if !open {
			return protocolErrorf("content_block_stop for unopened index %d", ev.Index)
		}
		delete(d.blocks, ev.Index)
		if block.kind == BlockToolUse {
			d.calls = append(d.calls, pendingEntry{seq: block.seq, call: d.acc.finish(ev.Index)})
		}

	case MessageDeltaEvent:
		if ev.Usage != nil {
			mergeUsage(&d.usage, *ev.Usage)
		}
		if ev.StopReason != StopUnknown {
			d.stop = ev.StopReason
		}

	case MessageStopEvent:
		d.finished = true

	case ErrorEvent:
		msg := ev.Message
		if ev.Code != "" {
			msg = ev.Code + ": " + msg
		}
		return &TransportError{Message: msg}

	case PingEvent:
		// Keep-alive.

	case UnknownEvent:
		// Skipped for forward compatibility.
	}
	return nil
}

// result assembles the turn once the stream is exhausted. Blocks still open
// at end of stream mean the provider truncated mid-block, which loses data,
// so it is treated as a protocol violation rather than papered over.
func (d *demux) result() (*TurnResult, error) {
	if len(d.blocks) > 0 {
		indices := make([]int, 0, len(d.blocks))
		for i := range d.blocks {
			indices = append(indices, i)
		}
		sort.Ints(indices)
		return nil, protocolErrorf("stream ended with %d block(s) still open (first index %d)", len(indices), indices[0])
	}

	entries := make([]pendingEntry, len(d.calls))
	copy(entries, d.calls)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	calls := make([]PendingToolCall, 0, len(entries))
	for _, e := range entries {
		calls = append(calls, e.call)
	}

	stop := d.stop
	if stop == StopUnknown {
		if len(calls) > 0 {
			stop = StopToolUse
		} else {
			stop = StopEndTurn
		}
	}

	return &TurnResult{
		Text:       d.text.String(),
		Calls:      calls,
		StopReason: stop,
		Usage:      d.usage,
	}, nil
}

// mergeUsage folds an incremental usage update into the running total.
// Providers report cumulative counts per turn, so nonzero fields replace
// rather than add.
func mergeUsage(dst *Usage, src Usage) {
	if src.InputTokens != 0 {
		dst.InputTokens = src.InputTokens
	}
	if src.OutputTokens != 0 {
		dst.OutputTokens = src.OutputTokens
	}
	if src.CachedInputTokens != 0 {
		dst.CachedInputTokens = src.CachedInputTokens
	}
}
