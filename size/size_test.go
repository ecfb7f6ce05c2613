package size

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDataUnit(t *testing.T) {
	var d = map[string]int64{
		"16mb":               16 << 20,
		"4_2":                42,
		"0":                  0,
		"0600Tb":             384 << 40,
		"0o12Mb":             10 << 20,
		"0b_10010001111_1kb": 2335 << 10,
		"1024":               1 << 10,
		"0x12gB":             18 << 30,
	}
	for k, v := range d {
		var buf Size
		err := buf.Set(k)
		assert.Nil(t, err, k)
		assert.Equal(t, Size(v), buf, k)
	}
}

func TestParseDataUnitInvalid(t *testing.T) {
	var buf Size
	assert.NotNil(t, buf.Set("12 mb"))
	assert.NotNil(t, buf.Set("mb"))
	assert.Equal(t, Size(0), buf)
}
