// Package serialization implements the .born checkpoint container.
//
// A .born file holds a set of named float32 tensors plus a JSON header:
//
//	Fixed header (64 bytes):
//	  0x00  [4 bytes: Magic "BORN"]
//	  0x04  [4 bytes: Version (uint32 LE)]
//	  0x08  [4 bytes: Flags (uint32 LE)]
//	  0x0C  [4 bytes: Reserved]
//	  0x10  [8 bytes: Header size (uint64 LE)]
//	  0x18  [8 bytes: Data size (uint64 LE)]
//	  0x20  [32 bytes: SHA-256 of the data section]
//	[Header: JSON metadata]
//	[Padding to a 64-byte boundary]
//	[Tensor data: little-endian float32, in header order]
//
// Example usage:
//
//	header := serialization.Header{Checkpoint: &serialization.CheckpointMeta{Step: 100}}
//	if err := serialization.WriteFile("model.ckpt-100.born", state, header); err != nil {
//	    return err
//	}
//
//	state, header, err := serialization.ReadFile("model.ckpt-100.born")
package serialization
