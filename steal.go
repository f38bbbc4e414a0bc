package mainloop

// regState is the accumulator/processing pair shared by the timer, idler and
// source registries.
//
// All external mutation (add, delete) targets acum; iteration happens over
// processing. At the start of a pass the owner goroutine steals acum's
// contents into processing under the scheduler mutex, releases the mutex,
// iterates, and merges back afterwards. Entries are never physically removed
// while a pass is active: deletion sets a soft-delete flag on the entry and
// bumps pendingDel, and cleanupTail walks the accumulator backward once no
// pass is running.
//
// Invariants:
//   - steal/merge happen only on the owner goroutine, with the mutex held
//   - while inProcess, acum holds only entries added since the steal
//   - pendingDel counts soft-deleted entries not yet physically removed
type regState[T any] struct {
	acum       []T
	processing []T
	inProcess  bool
	pendingDel int
}

// steal moves the accumulator's contents into the processing buffer and marks
// the pass active. Caller must hold the scheduler mutex.
func (r *regState[T]) steal() {
	r.processing, r.acum = r.acum, r.processing[:0]
	r.inProcess = true
}

// mergeFIFO appends the entries accumulated during the pass after the
// processed ones, preserving registration order, and clears the processing
// buffer. Caller must hold the scheduler mutex.
//
// Registries with a sort invariant (timers) merge element-wise instead.
func (r *regState[T]) mergeFIFO() {
	if len(r.acum) == 0 {
		r.processing, r.acum = r.acum, r.processing
		return
	}
	merged := append(r.processing, r.acum...)
	r.acum = merged
	r.processing = nil
}

// cleanupTail removes soft-deleted entries from the accumulator, walking
// backward so index shifts cannot affect an interrupted forward walk. It
// stops as soon as pendingDel drains to zero. deleted reports whether an
// entry carries the soft-delete mark; drop is invoked for each removed entry
// (it must not re-enter the registry). Caller must hold the scheduler mutex.
func (r *regState[T]) cleanupTail(deleted func(T) bool, drop func(T)) {
	if r.pendingDel == 0 {
		return
	}
	for i := len(r.acum) - 1; i >= 0; i-- {
		e := r.acum[i]
		if !deleted(e) {
			continue
		}
		copy(r.acum[i:], r.acum[i+1:])
		r.acum[len(r.acum)-1] = *new(T)
		r.acum = r.acum[:len(r.acum)-1]
		if drop != nil {
			drop(e)
		}
		r.pendingDel--
		if r.pendingDel == 0 {
			break
		}
	}
}
