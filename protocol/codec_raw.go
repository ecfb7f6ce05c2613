package protocol

import (
	"bytes"

	"github.com/vearne/httpsniffer/model"
)

const CodecRawName = "raw"

func init() {
	RegisterCodec(CodecRaw{})
}

// CodecRaw writes both messages back to back as they were on the wire,
// bodies already dechunked and decoded.
type CodecRaw struct{}

func (c CodecRaw) Marshal(ex *model.Exchange) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(ex.RawHeader[model.DirRequest])
	buf.Write(ex.Body[model.DirRequest])
	buf.Write(ex.RawHeader[model.DirResponse])
	buf.Write(ex.Body[model.DirResponse])
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func (c CodecRaw) Name() string {
	return CodecRawName
}
