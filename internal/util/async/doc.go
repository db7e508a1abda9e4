// Package async runs independent startup work concurrently.
//
// [Run] starts every task, waits for all of them, and joins their errors.
package async
