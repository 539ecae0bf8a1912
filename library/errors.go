package library

import (
	"github.com/pkg/errors"
)

// Error kinds surfaced by the library. Callers match them with errors.Is; the
// presentation layer decides how to word them.
var (
	// ErrValidation reports a missing or malformed field on create.
	ErrValidation = errors.New("validation failed")

	// ErrNoCopiesAvailable reports a borrow against a book with zero
	// available copies or a book that does not exist.
	ErrNoCopiesAvailable = errors.New("no copies available")

	// ErrNotFound reports an operation addressing a nonexistent record.
	ErrNotFound = errors.New("not found")

	// ErrNoOpenLoan is returned by ReturnBook when the book/member pair has
	// no outstanding loan.
	ErrNoOpenLoan = errors.Wrap(ErrNotFound, "no open loan")

	// ErrStorage reports an underlying persistence failure.
	ErrStorage = errors.New("storage failure")
)

// StorageError wraps a driver or SQL error with the operation that produced it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *StorageError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrStorage) match any StorageError.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// storageErr wraps err as a StorageError unless it is nil or already carries
// one of the library's own kinds.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrNoCopiesAvailable) ||
		errors.Is(err, ErrNotFound) || errors.Is(err, ErrStorage) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

func validationErr(format string, args ...any) error {
	return errors.Wrapf(ErrValidation, format, args...)
}
