package observability

import "runtime/debug"

// RecoverPanic recovers a panic in a background goroutine and logs it
// with the stack attached. Meant for defer in workers that must outlive
// a bad input, like the ingest watcher:
//
//	defer observability.RecoverPanic(logger, "publish dropped file")
//
// The panic is swallowed after logging, the goroutine continues from the
// defer point.
func RecoverPanic(logger *Logger, where string) {
	if r := recover(); r != nil {
		logger.WithFields(map[string]interface{}{
			"panic": r,
			"where": where,
			"stack": string(debug.Stack()),
		}).Error("panic recovered")
	}
}
