package protocol

import (
	"strings"

	"github.com/vearne/httpsniffer/model"
)

// Codec renders an exchange for an output plugin.
type Codec interface {
	Marshal(ex *model.Exchange) ([]byte, error)
	// Name returns the name of the Codec implementation, used to select
	// it from the command line. The result must be static.
	Name() string
}

var registeredCodecs = make(map[string]Codec)

func RegisterCodec(codec Codec) {
	if codec == nil {
		panic("cannot register a nil Codec")
	}
	if codec.Name() == "" {
		panic("cannot register Codec with empty string result for Name()")
	}
	registeredCodecs[strings.ToLower(codec.Name())] = codec
}

// The codec name is expected to be lowercase.
func GetCodec(codecType string) Codec {
	return registeredCodecs[codecType]
}
