package cave

import "container/heap"

// worklistEntry is one pending resolvent on the unselected queue, along
// with a priority number (the size of its constraint set when it was
// queued, 0 for targets and presets), used only to order work, never to
// decide it.
type worklistEntry struct {
	resolvent Resolvent
	priority  int
}

// unselected is a priority queue of resolvents whose constraints have
// just grown and which therefore need re-examination. It is backed by
// container/heap with a plain comparator func rather than a method keyed
// to a fixed field, so the resolver can tune ordering policy independent
// of the queue mechanics.
type unselected struct {
	sl  []worklistEntry
	cmp func(a, b worklistEntry) bool
}

func (u *unselected) Len() int { return len(u.sl) }
func (u *unselected) Less(i, j int) bool {
	return u.cmp(u.sl[i], u.sl[j])
}
func (u *unselected) Swap(i, j int) { u.sl[i], u.sl[j] = u.sl[j], u.sl[i] }

func (u *unselected) Push(x interface{}) {
	u.sl = append(u.sl, x.(worklistEntry))
}

func (u *unselected) Pop() interface{} {
	old := u.sl
	n := len(old)
	v := old[n-1]
	u.sl = old[:n-1]
	return v
}

func (u *unselected) push(r Resolvent, priority int) {
	for _, e := range u.sl {
		if e.resolvent == r {
			return // already queued; its constraints were merged in place
		}
	}
	heap.Push(u, worklistEntry{resolvent: r, priority: priority})
}

func (u *unselected) pop() (Resolvent, bool) {
	if u.Len() == 0 {
		return Resolvent{}, false
	}
	e := heap.Pop(u).(worklistEntry)
	return e.resolvent, true
}

// selection is the resolver's map of Resolvent to its in-progress or
// final Resolution, plus the priority queue of work remaining. One type
// covers both since Resolution already carries the constraint history
// alongside the decision.
type selection struct {
	res  map[Resolvent]*Resolution
	work *unselected
}

func newSelection(priority func(a, b worklistEntry) bool) *selection {
	s := &selection{
		res:  make(map[Resolvent]*Resolution),
		work: &unselected{cmp: priority},
	}
	heap.Init(s.work)
	return s
}

func (s *selection) get(r Resolvent) (*Resolution, bool) {
	res, ok := s.res[r]
	return res, ok
}

func (s *selection) touch(r Resolvent) *Resolution {
	res, ok := s.res[r]
	if !ok {
		res = &Resolution{Resolvent: r}
		s.res[r] = res
	}
	return res
}
