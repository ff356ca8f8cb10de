//go:build !native

package llama

func newDefaultEngine() Engine {
	return NewReferenceEngine()
}
