// Package mmap maps segment blobs of the local blob store read-only into
// memory.
//
//	f, err := mmap.Open(path)
//	if err != nil {
//		return err
//	}
//	defer f.Close()
//	_ = f.Advise(mmap.HintSequential)
package mmap
