package chain

// journal keeps undo closures for every mutation made in the current
// transaction. Reverting to a snapshot replays them newest first.
type journal struct {
	undo []func()
}

func (j *journal) append(fn func()) {
	j.undo = append(j.undo, fn)
}

func (j *journal) snapshot() int {
	return len(j.undo)
}

func (j *journal) revertTo(id int) {
	for i := len(j.undo) - 1; i >= id; i-- {
		j.undo[i]()
		j.undo[i] = nil
	}
	j.undo = j.undo[:id]
}

func (j *journal) reset() {
	clear(j.undo)
	j.undo = j.undo[:0]
}
