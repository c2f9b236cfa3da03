package fidtable

import (
	"github.com/hashicorp/go-multierror"

	"github.com/picocalc/ninepfs/storage"
)

// FreeAll closes every open handle in the table and clears every
// slot, for session teardown (spec §4.3, §4.4). A single misbehaving
// handle must not stop the rest from being released, so every close
// is attempted and every failure is collected rather than returning
// on the first error — the same "aggregate, don't short-circuit"
// discipline the teacher reaches go-multierror for when a cleanup
// path owns several independent resources.
func (t *Table) FreeAll(gw *storage.Gateway) error {
	var result *multierror.Error
	for i := range t.slots {
		e := &t.slots[i]
		if !e.inUse {
			continue
		}
		if e.IsOpen() {
			if err := gw.Close(e.Handle); err != nil {
				result = multierror.Append(result, err)
			}
		}
		t.slots[i] = Entry{}
	}
	return result.ErrorOrNil()
}
