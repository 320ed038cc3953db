package main

import (
	"slices"

	"github.com/tekert/gomtrace/mtrace"
)

// methodStats aggregates the calls of one method across all threads.
type methodStats struct {
	ID        mtrace.MethodID `json:"id"`
	Class     string          `json:"class"`
	Name      string          `json:"name"`
	Signature string          `json:"signature"`
	Calls     int             `json:"calls"`
	Unwinds   int             `json:"unwinds"`
	// Inclusive times in µs, summed over completed calls.
	InclusiveWall uint64 `json:"inclusiveWallUsec"`
	InclusiveCPU  uint64 `json:"inclusiveCpuUsec"`
}

type frame struct {
	method mtrace.MethodID
	wall   uint32
	cpu    uint32
}

// profile pairs enter and exit records per thread and sums inclusive times.
// Exits without a matching entry, as left by a buffer that filled up or a
// session started mid-call, are counted but not timed.
func profile(tf *mtrace.TraceFile) []*methodStats {
	byID := make(map[mtrace.MethodID]*methodStats)
	for _, m := range tf.Footer.Methods {
		byID[m.ID] = &methodStats{ID: m.ID, Class: m.DeclaringClass, Name: m.Name, Signature: m.Signature}
	}
	stat := func(id mtrace.MethodID) *methodStats {
		s, ok := byID[id]
		if !ok {
			s = &methodStats{ID: id, Class: "?", Name: "?", Signature: "?"}
			byID[id] = s
		}
		return s
	}

	stacks := make(map[uint16][]frame)
	for _, r := range tf.Records {
		s := stat(r.Method)
		stack := stacks[r.ThreadID]
		switch r.Action {
		case mtrace.ActionEnter:
			s.Calls++
			stacks[r.ThreadID] = append(stack, frame{r.Method, r.WallDelta, r.ThreadCPUDelta})
			continue
		case mtrace.ActionUnwind:
			s.Unwinds++
		}

		// Pop to the matching frame; frames above it exited without a record.
		i := len(stack) - 1
		for i >= 0 && stack[i].method != r.Method {
			i--
		}
		if i < 0 {
			continue
		}
		top := stack[i]
		if r.WallDelta >= top.wall {
			s.InclusiveWall += uint64(r.WallDelta - top.wall)
		}
		if r.ThreadCPUDelta >= top.cpu {
			s.InclusiveCPU += uint64(r.ThreadCPUDelta - top.cpu)
		}
		stacks[r.ThreadID] = stack[:i]
	}

	out := make([]*methodStats, 0, len(byID))
	for _, s := range byID {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b *methodStats) int {
		if a.InclusiveWall != b.InclusiveWall {
			if a.InclusiveWall > b.InclusiveWall {
				return -1
			}
			return 1
		}
		return int(a.ID) - int(b.ID)
	})
	return out
}
