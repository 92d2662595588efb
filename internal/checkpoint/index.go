package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"

	"google.golang.org/protobuf/encoding/protowire"
)

// IndexFile is the name of the file listing a directory's checkpoints.
const IndexFile = "checkpoint"

// Index field numbers.
const (
	fieldLatest protowire.Number = 1
	fieldAll    protowire.Number = 2
	fieldStep   protowire.Number = 3
)

// Index lists the retained checkpoints of a directory, oldest first.
// Paths are file names relative to the directory.
type Index struct {
	Latest     string
	All        []string
	LatestStep int64
}

// MarshalBinary encodes the index as a protobuf message:
//
//	message Index {
//	  string latest = 1;
//	  repeated string all = 2;
//	  int64 latest_step = 3;
//	}
func (idx Index) MarshalBinary() ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, fieldLatest, protowire.BytesType)
	b = protowire.AppendString(b, idx.Latest)
	for _, p := range idx.All {
		b = protowire.AppendTag(b, fieldAll, protowire.BytesType)
		b = protowire.AppendString(b, p)
	}
	b = protowire.AppendTag(b, fieldStep, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(idx.LatestStep))
	return b, nil
}

// UnmarshalBinary decodes an index written by MarshalBinary. Unknown fields
// are skipped.
func (idx *Index) UnmarshalBinary(b []byte) error {
	*idx = Index{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrIndex, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case (num == fieldLatest || num == fieldAll) && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrIndex, num, protowire.ParseError(n))
			}
			if num == fieldLatest {
				idx.Latest = v
			} else {
				idx.All = append(idx.All, v)
			}
			b = b[n:]
		case num == fieldStep && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrIndex, num, protowire.ParseError(n))
			}
			idx.LatestStep = int64(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrIndex, num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

// ReadIndex loads the index of dir.
func ReadIndex(dir string) (Index, error) {
	var idx Index
	b, err := os.ReadFile(filepath.Join(dir, IndexFile))
	if err != nil {
		return idx, err
	}
	err = idx.UnmarshalBinary(b)
	return idx, err
}

// writeIndex replaces the index of dir atomically.
func writeIndex(dir string, idx Index) error {
	b, err := idx.MarshalBinary()
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, IndexFile+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, IndexFile))
}
