package protocol

import (
	"bytes"
	"compress/gzip"
	"io"
)

// gzipBytes never fails: writes go to memory. An empty input still yields a
// valid gzip stream.
func gzipBytes(p []byte) []byte {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write(p)
	_ = zw.Close()
	return buf.Bytes()
}

func gunzipBytes(p []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(p))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
