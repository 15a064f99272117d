package output

import (
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamalhq/hamal/internal/logstore"
)

func collect(t *testing.T, r Reader, src io.Reader) []logstore.Line {
	t.Helper()
	var out []logstore.Line
	require.NoError(t, r.Run(src, func(l logstore.Line) { out = append(out, l) }))
	return out
}

func textsOf(ls []logstore.Line) []string {
	out := make([]string, len(ls))
	for i, l := range ls {
		out[i] = l.Text
	}
	return out
}

func TestRunSplitsLines(t *testing.T) {
	lines := collect(t, Reader{Stream: logstore.Stdout}, strings.NewReader("a\r\nb\n\nlast"))
	assert.Equal(t, []string{"a", "b", "", "last"}, textsOf(lines))
	for _, l := range lines {
		assert.Equal(t, logstore.Stdout, l.Stream)
		assert.False(t, l.Timestamp.IsZero())
	}
}

func TestRunEmptyInput(t *testing.T) {
	assert.Empty(t, collect(t, Reader{Stream: logstore.Stderr}, strings.NewReader("")))
}

func TestRunReplacesInvalidUTF8(t *testing.T) {
	var invalid [][]byte
	r := Reader{Stream: logstore.Stderr, OnInvalid: func(raw []byte) { invalid = append(invalid, raw) }}
	lines := collect(t, r, strings.NewReader("ok\nbad \xff\xfe byte\nh\xc3\xa9llo\n"))
	require.Len(t, lines, 3)
	assert.Equal(t, "ok", lines[0].Text)
	assert.Equal(t, "bad �� byte", lines[1].Text)
	assert.Equal(t, "héllo", lines[2].Text)
	require.Len(t, invalid, 1)
	assert.Equal(t, []byte("bad \xff\xfe byte"), invalid[0])
}

func TestRunSplitsOverlongLines(t *testing.T) {
	long := strings.Repeat("x", 40) + "\n"
	lines := collect(t, Reader{Stream: logstore.Stdout, MaxLine: 16}, strings.NewReader(long))
	require.Len(t, lines, 3)
	assert.Equal(t, strings.Repeat("x", 40), strings.Join(textsOf(lines), ""))
}

func TestRunKeepsRunesWholeWhenSplitting(t *testing.T) {
	var invalid int
	r := Reader{Stream: logstore.Stdout, MaxLine: 16, OnInvalid: func([]byte) { invalid++ }}
	in := "a" + strings.Repeat("é", 20) + strings.Repeat("日", 5)
	lines := collect(t, r, strings.NewReader(in+"\n"))
	require.Greater(t, len(lines), 1)
	assert.Zero(t, invalid)
	assert.Equal(t, in, strings.Join(textsOf(lines), ""))
	for _, l := range lines {
		assert.True(t, utf8.ValidString(l.Text), l.Text)
	}
}

func TestRunFlagsTruncatedRuneAtEOF(t *testing.T) {
	var invalid int
	r := Reader{Stream: logstore.Stdout, OnInvalid: func([]byte) { invalid++ }}
	lines := collect(t, r, strings.NewReader("abc\xc3"))
	require.Len(t, lines, 1)
	assert.Equal(t, 1, invalid)
	assert.Equal(t, "abc\uFFFD", lines[0].Text)
}

func TestRunUsesClock(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	lines := collect(t, Reader{Stream: logstore.Stdout, Now: func() time.Time { return at }}, strings.NewReader("x\n"))
	require.Len(t, lines, 1)
	assert.Equal(t, at, lines[0].Timestamp)
}

func TestRunEndsOnClosedPipe(t *testing.T) {
	pr, pw, err := os.Pipe()
	require.NoError(t, err)
	done := make(chan error, 1)
	var got []string
	go func() {
		done <- Reader{Stream: logstore.Stdout}.Run(pr, func(l logstore.Line) { got = append(got, l.Text) })
	}()
	_, _ = pw.Write([]byte("one\n"))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, pr.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not return after close")
	}
	_ = pw.Close()
	assert.Equal(t, []string{"one"}, got)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestRunReturnsReadErrors(t *testing.T) {
	err := Reader{Stream: logstore.Stdout}.Run(failingReader{}, func(logstore.Line) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
