package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// objectWriter commits its buffer on Close unless its context was canceled.
type objectWriter struct {
	ctx       context.Context
	buf       bytes.Buffer
	committed []byte
}

func (w *objectWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *objectWriter) Close() error {
	if err := w.ctx.Err(); err != nil {
		return err
	}
	w.committed = w.buf.Bytes()
	return nil
}

// brokenReader returns a few bytes and then fails.
type brokenReader struct {
	done bool
}

func (r *brokenReader) Read(p []byte) (int, error) {
	if r.done {
		return 0, errors.New("connection reset by peer")
	}
	r.done = true
	return copy(p, "PAR1"), nil
}

func TestWrite(t *testing.T) {
	w := &objectWriter{}
	open := func(ctx context.Context) io.WriteCloser {
		w.ctx = ctx
		return w
	}

	require.NoError(t, write(context.Background(), open, strings.NewReader("PAR1 trips")))
	assert.Equal(t, []byte("PAR1 trips"), w.committed)
}

func TestWrite_abortsOnReadError(t *testing.T) {
	w := &objectWriter{}
	open := func(ctx context.Context) io.WriteCloser {
		w.ctx = ctx
		return w
	}

	err := write(context.Background(), open, &brokenReader{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset by peer")
	assert.Nil(t, w.committed, "truncated object must not be committed")
}
