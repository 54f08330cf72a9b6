package streams

// simple wrapper around IO for cobra commands
// inspired by:
// https://github.com/kubernetes/kubernetes/blob/55e1d2f9a73a0c78fc0c266236c3e31261635b90/staging/src/k8s.io/cli-runtime/pkg/genericclioptions/io_options.go

import (
	"bufio"
	"bytes"
	"io"
	"os"
)

// IO provides the standard names for iostreams. Tuple streams go to Out (or
// come from In); logs go to ErrOut.
type IO struct {
	In     io.Reader
	Out    io.Writer
	ErrOut io.Writer
}

// NewTestIO returns a valid IO and in, out, errout buffers for unit tests
func NewTestIO() (IO, *bytes.Buffer, *bytes.Buffer, *bytes.Buffer) {
	in := &bytes.Buffer{}
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}

	return IO{
		In:     in,
		Out:    out,
		ErrOut: errOut,
	}, in, out, errOut
}

// NewStdIO returns a valid IO for stdin, stdout, stderr
func NewStdIO() IO {
	return IO{
		In:     os.Stdin,
		Out:    os.Stdout,
		ErrOut: os.Stderr,
	}
}

// Input opens path for reading, or returns In for "" and "-".
func (s IO) Input(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(s.In), nil
	}
	return os.Open(path)
}

// Output creates path for writing, or returns Out for "" and "-". Writes are
// buffered until Close.
func (s IO) Output(path string) (io.WriteCloser, error) {
	if path == "" || path == "-" {
		return &bufferedWriter{Writer: bufio.NewWriter(s.Out)}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &bufferedWriter{Writer: bufio.NewWriter(f), closer: f}, nil
}

type bufferedWriter struct {
	*bufio.Writer
	closer io.Closer
}

func (w *bufferedWriter) Close() error {
	err := w.Flush()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
