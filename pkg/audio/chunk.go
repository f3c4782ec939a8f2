package audio

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/astronerd/ghostype/pkg/errorsx"
)

// Split cuts pcm into size-byte chunks; the last one may be shorter.
func Split(pcm []byte, size int) [][]byte {
	if size <= 0 || len(pcm) == 0 {
		return nil
	}
	out := make([][]byte, 0, (len(pcm)+size-1)/size)
	for len(pcm) > size {
		out = append(out, pcm[:size:size])
		pcm = pcm[size:]
	}
	return append(out, pcm)
}

// Stream reads r in size-byte chunks until EOF. The chunk channel is closed
// when reading stops; the error channel then yields at most one error.
func Stream(ctx context.Context, r io.Reader, size int) (<-chan []byte, <-chan error) {
	out := make(chan []byte)
	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		defer close(out)
		if size <= 0 {
			errc <- errorsx.Newf(errorsx.ReasonAudioInput, "audio: chunk size must be positive, got %d", size)
			return
		}
		for {
			buf := make([]byte, size)
			n, err := io.ReadFull(r, buf)
			if n > 0 {
				select {
				case out <- buf[:n]:
				case <-ctx.Done():
					errc <- ctx.Err()
					return
				}
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return
			}
			if err != nil {
				errc <- errorsx.Wrap(fmt.Errorf("audio: read: %w", err), errorsx.ReasonAudioInput)
				return
			}
		}
	}()
	return out, errc
}

// Feed sends chunks in order and closes the returned channel afterwards.
func Feed(ctx context.Context, chunks [][]byte) <-chan []byte {
	out := make(chan []byte)
	go func() {
		defer close(out)
		for _, c := range chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Tee copies every chunk to w before forwarding it. A write error stops the
// copying but not the forwarding; the returned func reports it once the
// output channel has been drained.
func Tee(ctx context.Context, in <-chan []byte, w io.Writer) (<-chan []byte, func() error) {
	out := make(chan []byte)
	var werr error
	go func() {
		defer close(out)
		for chunk := range in {
			if werr == nil {
				if _, err := w.Write(chunk); err != nil {
					werr = err
				}
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, func() error { return werr }
}
