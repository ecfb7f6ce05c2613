package util

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsProbablyText(t *testing.T) {
	cases := []struct {
		name     string
		data     []byte
		expected bool
	}{
		{"empty", nil, true},
		{"json", []byte(`{"name":"httpsniffer","ok":true}`), true},
		{"html", []byte("<html>\r\n\t<body>hello</body>\r\n</html>"), true},
		{"utf8", []byte("你好, world"), true},
		{"gzip magic", []byte{0x1f, 0x8b, 0x08, 0x00, 0x00}, false},
		{"nul byte", []byte("abc\x00def"), false},
		{"invalid utf8", []byte{'a', 0xff, 0xfe, 'b'}, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.expected, IsProbablyText(c.data), c.name)
	}
}

func TestIsProbablyTextLongSample(t *testing.T) {
	// a multi-byte rune straddles the sample boundary
	data := append(bytes.Repeat([]byte("a"), textSampleSize-1), []byte("世界")...)
	assert.True(t, IsProbablyText(data))

	data = append(bytes.Repeat([]byte("a"), textSampleSize), 0x00)
	assert.True(t, IsProbablyText(data), "bytes after the sample are not inspected")
}

func TestStringSet(t *testing.T) {
	set := NewStringSet()
	set.AddAll([]string{"10.0.0.1", "10.0.0.2"})
	assert.True(t, set.Has("10.0.0.1"))
	assert.False(t, set.Has("10.0.0.3"))

	other := NewStringSet()
	other.Add("10.0.0.2")
	assert.Equal(t, []string{"10.0.0.2"}, set.Intersection(other).ToArray())

	set.RemoveAll(other)
	assert.Equal(t, 1, set.Size())
}

func TestGoroutineSafeBuffer(t *testing.T) {
	buf := NewGoroutineSafeBuffer()
	_, err := buf.Write([]byte("GET / HTTP/1.1\r\n"))
	assert.Nil(t, err)
	assert.Equal(t, 16, buf.Len())
	assert.Equal(t, "GET / HTTP/1.1\r\n", buf.String())
	buf.Reset()
	assert.Equal(t, 0, buf.Len())
}
