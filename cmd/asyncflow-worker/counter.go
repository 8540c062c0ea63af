package main

import (
	"strconv"

	"github.com/asyncflow/asyncflow/pkg/asyncexec"
	"github.com/asyncflow/asyncflow/pkg/ingest"
)

var countState = &asyncexec.StateDescriptor{Name: "record_count"}

// countRecords is the built-in processing logic: it keeps one counter per
// key. The read-modify-write chain runs as continuations on the execution
// thread, so concurrent records for the same key never interleave.
func countRecords(controller *asyncexec.AsyncExecutionController) ingest.ProcessFunc {
	return func(_ *asyncexec.RecordContext, _ ingest.Record) error {
		controller.HandleRequest(countState, asyncexec.RequestTypeGet, nil).ThenAccept(func(value []byte) {
			count := int64(0)
			if len(value) > 0 {
				parsed, err := strconv.ParseInt(string(value), 10, 64)
				if err == nil {
					count = parsed
				}
			}

			payload := []byte(strconv.FormatInt(count+1, 10))
			controller.HandleRequest(countState, asyncexec.RequestTypePut, payload)
		})

		return nil
	}
}
