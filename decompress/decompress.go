// Package decompress undoes HTTP content codings on captured bodies.
package decompress

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/vearne/httpsniffer/consts"
)

type Decoder interface {
	Decode(data []byte) ([]byte, error)
	// Name is the content coding token, e.g. "gzip".
	Name() string
}

var registeredDecoders = make(map[string]Decoder)

// Register adds d under its name and any aliases.
func Register(d Decoder, aliases ...string) {
	if d == nil {
		panic("cannot register a nil Decoder")
	}
	if d.Name() == "" {
		panic("cannot register Decoder with empty string result for Name()")
	}
	registeredDecoders[strings.ToLower(d.Name())] = d
	for _, alias := range aliases {
		registeredDecoders[strings.ToLower(alias)] = d
	}
}

func Get(name string) Decoder {
	return registeredDecoders[strings.ToLower(strings.TrimSpace(name))]
}

// Supported reports whether every coding listed in a Content-Encoding
// value has a decoder.
func Supported(encoding string) bool {
	for _, name := range codings(encoding) {
		if Get(name) == nil {
			return false
		}
	}
	return true
}

// Decode reverses the codings listed in a Content-Encoding value, last
// applied first.
func Decode(encoding string, data []byte) ([]byte, error) {
	list := codings(encoding)
	for i := len(list) - 1; i >= 0; i-- {
		d := Get(list[i])
		if d == nil {
			return nil, errors.Wrapf(consts.ErrUnknownEncoding, "%q", list[i])
		}
		out, err := d.Decode(data)
		if err != nil {
			return nil, errors.Wrapf(err, "decode %v", d.Name())
		}
		data = out
	}
	return data, nil
}

func codings(encoding string) []string {
	var list []string
	for _, item := range strings.Split(encoding, ",") {
		item = strings.ToLower(strings.TrimSpace(item))
		if item == "" || item == "identity" {
			continue
		}
		list = append(list, item)
	}
	return list
}
