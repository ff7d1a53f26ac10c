package errors

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCloser struct {
	closeErr error
	closed   bool
}

func (m *mockCloser) Close() error {
	m.closed = true
	return m.closeErr
}

func TestDeferClose(t *testing.T) {
	tests := []struct {
		name       string
		closer     *mockCloser
		wantLogged bool
	}{
		{name: "nil closer"},
		{name: "successful close", closer: &mockCloser{}},
		{name: "close with error", closer: &mockCloser{closeErr: errors.New("close failed")}, wantLogged: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := zerolog.New(&buf)

			var c io.Closer
			if tt.closer != nil {
				c = tt.closer
			}
			DeferClose(logger, c, "test close")

			if tt.closer != nil {
				assert.True(t, tt.closer.closed)
			}
			assert.Equal(t, tt.wantLogged, buf.Len() > 0)
		})
	}
}

func TestCloseInto(t *testing.T) {
	t.Run("keeps close error", func(t *testing.T) {
		var err error
		CloseInto(&err, &mockCloser{closeErr: io.ErrShortWrite}, "close profile")
		require.ErrorIs(t, err, io.ErrShortWrite)
		assert.Contains(t, err.Error(), "close profile")
	})

	t.Run("does not mask earlier error", func(t *testing.T) {
		first := errors.New("encode failed")
		err := first
		CloseInto(&err, &mockCloser{closeErr: io.ErrShortWrite}, "close profile")
		assert.Same(t, first, err)
	})

	t.Run("clean close", func(t *testing.T) {
		var err error
		c := &mockCloser{}
		CloseInto(&err, c, "close profile")
		assert.NoError(t, err)
		assert.True(t, c.closed)
	})
}

func TestMust(t *testing.T) {
	assert.NotPanics(t, func() { Must(nil, "init") })
	assert.PanicsWithValue(t, "init: failed", func() { Must(errors.New("failed"), "init") })
}
