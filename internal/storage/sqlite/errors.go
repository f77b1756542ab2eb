package sqlite

import (
	"errors"

	"github.com/mattn/go-sqlite3"

	"github.com/example/hybridplanner/internal/storage"
)

// classify maps driver errors onto the persistence taxonomy. Errors that
// are neither transient nor conflicts are returned unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return err
	}
	switch se.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return &storage.PersistenceError{Kind: storage.KindTransient, Op: op, Err: err}
	case sqlite3.ErrConstraint:
		if se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return &storage.PersistenceError{Kind: storage.KindConflict, Op: op, Err: err}
		}
	}
	return err
}
