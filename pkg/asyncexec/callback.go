package asyncexec

import (
	"fmt"

	"github.com/asyncflow/asyncflow/pkg/mailbox"
)

// callbackRunner schedules continuations onto the execution thread with the
// originating context re-installed before they run. The context travels in
// the scheduled closure itself, so correctness never depends on ambient
// state left behind by a previous callback.
type callbackRunner struct {
	mb            mailbox.Executor
	switchContext func(*RecordContext)
	notify        func()
	handler       ExceptionHandler
}

func (r *callbackRunner) submit(ctx *RecordContext, name string, fn func()) {
	r.mb.Execute(name, func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.handler.HandleException("panic in continuation "+name, fmt.Errorf("%v", rec))
			}
		}()

		r.switchContext(ctx)
		fn()
	})

	r.notify()
}
