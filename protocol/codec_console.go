package protocol

import (
	"bytes"

	"github.com/vearne/httpsniffer/model"
	"github.com/vearne/httpsniffer/util"
)

const CodecConsoleName = "console"

const (
	ansiRed   = "\x1b[31m"
	ansiGreen = "\x1b[32m"
	ansiBlue  = "\x1b[34m"
	ansiCyan  = "\x1b[36m"
	ansiReset = "\x1b[0m"
)

func init() {
	RegisterCodec(CodecConsole{Color: true})
}

// CodecConsole is the interactive format. Without Color it writes no
// escape sequences and prints bodies as they are, binary or not.
type CodecConsole struct {
	Color bool
}

func (c CodecConsole) Marshal(ex *model.Exchange) ([]byte, error) {
	var buf bytes.Buffer
	c.paint(&buf, ansiCyan, []byte(ex.SrcAddr+" -> "+ex.DstAddr))
	buf.WriteByte('\n')

	c.paint(&buf, ansiGreen, ex.RawHeader[model.DirRequest])
	c.body(&buf, ex.Body[model.DirRequest], "[binary request body]")
	buf.WriteByte('\n')

	c.paint(&buf, ansiBlue, ex.RawHeader[model.DirResponse])
	if len(ex.Body[model.DirResponse]) == 0 {
		c.paint(&buf, ansiRed, []byte("[empty response body]"))
	} else {
		c.body(&buf, ex.Body[model.DirResponse], "[binary response body]")
	}
	if ex.DecodeErr != "" {
		buf.WriteByte('\n')
		c.paint(&buf, ansiRed, []byte("[decompress error]"))
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func (c CodecConsole) Name() string {
	return CodecConsoleName
}

func (c CodecConsole) paint(buf *bytes.Buffer, color string, text []byte) {
	if c.Color {
		buf.WriteString(color)
		buf.Write(text)
		buf.WriteString(ansiReset)
		return
	}
	buf.Write(text)
}

func (c CodecConsole) body(buf *bytes.Buffer, body []byte, marker string) {
	if !c.Color || util.IsProbablyText(body) {
		buf.Write(body)
		return
	}
	c.paint(buf, ansiRed, []byte(marker))
}
