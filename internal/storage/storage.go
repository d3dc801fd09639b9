package storage

import "lendbook/internal/book"

// Journal defines a sink for ledger events.
type Journal interface {
	PutEventBatch(events []book.Event) error
}

// RecorderFunc adapts a function to book.Recorder.
type RecorderFunc func(book.Event)

func (f RecorderFunc) Record(ev book.Event) { f(ev) }
