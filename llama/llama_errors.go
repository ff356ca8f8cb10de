// llama_errors.go
// Fehler-Modul: typisierte Fehler fuer Laden, native Aufrufe und freigegebene Handles

package llama

import "fmt"

// LoadError wird zurueckgegeben, wenn Backend-Initialisierung oder Laden des Models fehlschlaegt
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("unable to initialize backend: %v", e.Err)
	}
	return fmt.Sprintf("unable to load model %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// NativeCallError traegt Status-Code und letzte Fehlermeldung eines nativen Aufrufs
type NativeCallError struct {
	Op      string
	Code    int
	Message string
}

func (e *NativeCallError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s failed with code %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s failed with code %d: %s", e.Op, e.Code, e.Message)
}

// InvalidStateError meldet die Verwendung eines bereits freigegebenen Handles.
// Der native Layer wird in diesem Fall nie erreicht.
type InvalidStateError struct {
	Op       string
	Resource string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s: %s already closed", e.Op, e.Resource)
}

func closedError(op, resource string) error {
	return &InvalidStateError{Op: op, Resource: resource}
}
