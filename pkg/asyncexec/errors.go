package asyncexec

import "fmt"

// asPanicError converts a recovered panic value into an error suitable for
// the exception handler.
func asPanicError(recovered any) error {
	if err, ok := recovered.(error); ok {
		return err
	}

	return fmt.Errorf("panic: %v", recovered)
}
