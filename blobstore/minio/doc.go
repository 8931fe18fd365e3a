// Package minio implements blobstore.Store with the MinIO client, for MinIO
// and other S3-compatible storage (Ceph, Garage, SeaweedFS).
//
//	store, err := minio.Dial("localhost:9000", "minioadmin", "minioadmin", false, "segments", "logs/")
//	if err != nil {
//		return err
//	}
package minio
