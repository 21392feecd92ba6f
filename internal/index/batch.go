package index

// Batch collects mutations applied as one generation swap. Later operations
// on the same id win.
type Batch struct {
	ops []op
}

type op struct {
	id     string
	vec    []float32
	delete bool
}

// Put schedules an insert or replace.
func (b *Batch) Put(id string, vec []float32) *Batch {
	b.ops = append(b.ops, op{id: id, vec: vec})
	return b
}

// Delete schedules a removal. Absent ids are ignored.
func (b *Batch) Delete(id string) *Batch {
	b.ops = append(b.ops, op{id: id, delete: true})
	return b
}

// Len returns the number of scheduled operations.
func (b *Batch) Len() int { return len(b.ops) }
