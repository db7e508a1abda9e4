// Package s3 reads release manifests and disk images from S3-compatible
// object storage.
//
// Objects are streamed rather than buffered so multi-gigabyte images never
// sit in memory. Only the small manifest object is read fully.
package s3
