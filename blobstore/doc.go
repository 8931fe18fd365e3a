// Package blobstore is the storage abstraction segment blobs are loaded
// from.
//
// Built-in implementations:
//
//   - MemoryStore: in-process, for tests and embedding
//   - LocalStore: a directory on the local file system, read through mmap
//   - s3.Store: Amazon S3 (blobstore/s3)
//   - minio.Store: MinIO and other S3-compatible services (blobstore/minio)
//
// Remote blobs are read with range requests; Reader streams a whole blob
// with a single request.
package blobstore
