// Package engine orchestrates guest execution for the worker RPC surface:
// it opens and closes sessions, and drives streaming runs through the
// sandbox with per-session parallelism, per-request execution timeouts and a
// per-stream epoch ticker, recording every request in the run ledger.
package engine
