// Package db keeps the finalized notes of a callnotes process.
//
// Two backends implement NoteStore: MemoryStore, a plain newest-first slice,
// and Store, an SQLite table that defaults to an in-memory database so notes
// still disappear with the process.
package db

import "github.com/jwulff/callnotes/internal/segment"

// NoteStore is an append-only collection of notes read newest first.
type NoteStore interface {
	// Prepend records n as the newest note.
	Prepend(n segment.Note) error
	// Notes returns all notes, newest first.
	Notes() ([]segment.Note, error)
	// Close releases the store.
	Close() error
}

// MemoryStore is a NoteStore backed by a slice. Not safe for concurrent use;
// it is owned by the session goroutine like the rest of the session state.
type MemoryStore struct {
	notes []segment.Note
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Prepend inserts n at the front.
func (m *MemoryStore) Prepend(n segment.Note) error {
	m.notes = append(m.notes, segment.Note{})
	copy(m.notes[1:], m.notes)
	m.notes[0] = n
	return nil
}

// Notes returns a copy of the notes, newest first.
func (m *MemoryStore) Notes() ([]segment.Note, error) {
	out := make([]segment.Note, len(m.notes))
	copy(out, m.notes)
	return out, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

var (
	_ NoteStore = (*MemoryStore)(nil)
	_ NoteStore = (*Store)(nil)
)
