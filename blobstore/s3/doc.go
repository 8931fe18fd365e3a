// Package s3 implements blobstore.Store on Amazon S3.
//
//	cfg, err := config.LoadDefaultConfig(ctx)
//	if err != nil {
//		return err
//	}
//	store := s3.NewStore(awss3.NewFromConfig(cfg), "my-bucket", "segments/")
//
// Blobs are read with ranged GetObject calls and written with a single
// PutObject.
package s3
