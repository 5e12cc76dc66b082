package gcs

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bufferWriter struct {
	bytes.Buffer
	writeErr error
	closeErr error
	closed   bool
}

func (w *bufferWriter) Write(p []byte) (int, error) {
	if w.writeErr != nil {
		return 0, w.writeErr
	}
	return w.Buffer.Write(p)
}

func (w *bufferWriter) Close() error {
	w.closed = true
	return w.closeErr
}

func storeWith(w *bufferWriter, seen *[]string) *BlobStore {
	return &BlobStore{
		bucket: "reports",
		newWriter: func(_ context.Context, bucket, path, contentType string) objectWriter {
			*seen = append(*seen, bucket, path, contentType)
			return w
		},
	}
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	w := &bufferWriter{}
	var seen []string
	uri, err := storeWith(w, &seen).PutObject(context.Background(), "x.com/run.json", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "gs://reports/x.com/run.json", uri)
	assert.Equal(t, []string{"reports", "x.com/run.json", "application/json"}, seen)
	assert.Equal(t, "{}", w.String())
	assert.True(t, w.closed)
}

func TestPutObjectErrors(t *testing.T) {
	t.Parallel()

	var seen []string
	_, err := storeWith(&bufferWriter{}, &seen).PutObject(context.Background(), "  ", "", strings.NewReader("x"))
	require.Error(t, err)
	assert.Empty(t, seen)

	writeErr := errors.New("quota")
	w := &bufferWriter{writeErr: writeErr}
	_, err = storeWith(w, &seen).PutObject(context.Background(), "a.json", "", strings.NewReader("x"))
	require.ErrorIs(t, err, writeErr)
	assert.True(t, w.closed)

	closeErr := errors.New("precondition failed")
	_, err = storeWith(&bufferWriter{closeErr: closeErr}, &seen).PutObject(context.Background(), "a.json", "", strings.NewReader("x"))
	require.ErrorIs(t, err, closeErr)
}

func TestNewValidatesInput(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
}
