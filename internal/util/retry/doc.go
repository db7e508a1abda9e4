// Package retry provides exponential backoff retry logic for transient failures.
//
// The [Do] function retries an operation with a configurable attempt budget,
// initial delay, and maximum delay. It is used for registry reads and release
// manifest lookups; registry mutations are never retried automatically.
package retry
