package domain

import "errors"

var (
	// ErrInvalidColumn indicates a status outside the project's column registry.
	ErrInvalidColumn = errors.New("invalid column")
	// ErrTaskNotFound indicates the task id does not resolve inside the project.
	ErrTaskNotFound = errors.New("task not found")
	// ErrColumnMismatch indicates the caller's source column disagrees with the stored status.
	ErrColumnMismatch = errors.New("column mismatch")
	// ErrForbidden indicates the caller lacks membership or role for the action.
	ErrForbidden = errors.New("forbidden")
	// ErrPersistenceFailure indicates a storage write failed and nothing was committed.
	ErrPersistenceFailure = errors.New("persistence failure")
	// ErrProjectNotFound indicates an unknown project id.
	ErrProjectNotFound = errors.New("project not found")
	// ErrInvalidTask indicates task fields failed validation.
	ErrInvalidTask = errors.New("invalid task")
	// ErrConflict indicates another writer changed the project after it was read.
	ErrConflict = errors.New("concurrent modification")
)

// ErrorKind returns the wire name of the taxonomy error wrapped by err.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidColumn):
		return "InvalidColumn"
	case errors.Is(err, ErrTaskNotFound):
		return "TaskNotFound"
	case errors.Is(err, ErrColumnMismatch):
		return "ColumnMismatch"
	case errors.Is(err, ErrForbidden):
		return "Forbidden"
	case errors.Is(err, ErrPersistenceFailure):
		return "PersistenceFailure"
	case errors.Is(err, ErrProjectNotFound):
		return "ProjectNotFound"
	case errors.Is(err, ErrInvalidTask):
		return "InvalidTask"
	case errors.Is(err, ErrConflict):
		return "Conflict"
	default:
		return "Internal"
	}
}
