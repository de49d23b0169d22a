package wire

import (
	"io"

	"github.com/golang/snappy"

	"github.com/kvtx/kvtx/overlaydb"
)

// EncodeDbDiffCompressed is EncodeDbDiff wrapped in snappy framing, for
// diffs shipped over a network transport rather than stored locally.
func EncodeDbDiffCompressed(w io.Writer, d overlaydb.Diff) error {
	sw := snappy.NewBufferedWriter(w)
	if err := EncodeDbDiff(sw, d); err != nil {
		return err
	}
	return sw.Close()
}

// DecodeDbDiffCompressed is the inverse of EncodeDbDiffCompressed.
func DecodeDbDiffCompressed(r io.Reader) (overlaydb.Diff, error) {
	return DecodeDbDiff(snappy.NewReader(r))
}
