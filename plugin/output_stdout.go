package plugin

import (
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/vearne/httpsniffer/consts"
	"github.com/vearne/httpsniffer/model"
	"github.com/vearne/httpsniffer/protocol"
	"github.com/vearne/httpsniffer/util"
)

type StdOutputConfig struct {
	// os.Stdout when nil
	Writer io.Writer
	Codec  string
	// color the console codec even when Writer is not a terminal
	ForceColor bool
}

// StdOutput prints every exchange to the console.
type StdOutput struct {
	sync.Mutex
	writer io.Writer
	codec  protocol.Codec
}

func NewStdOutput(cf *StdOutputConfig) (*StdOutput, error) {
	var o StdOutput
	o.writer = cf.Writer
	if o.writer == nil {
		o.writer = os.Stdout
	}

	switch cf.Codec {
	case "", protocol.CodecConsoleName:
		color := cf.ForceColor
		if f, ok := o.writer.(*os.File); ok && util.IsTerminal(f) {
			color = true
		}
		o.codec = protocol.CodecConsole{Color: color}
	default:
		o.codec = protocol.GetCodec(cf.Codec)
	}
	if o.codec == nil {
		return nil, errors.Errorf("output-stdout: unknown codec %q", cf.Codec)
	}
	return &o, nil
}

func (o *StdOutput) Close() error {
	return nil
}

func (o *StdOutput) Write(ex *model.Exchange) error {
	data, err := o.codec.Marshal(ex)
	if err != nil {
		return err
	}

	o.Lock()
	defer o.Unlock()
	_, err = o.writer.Write(data)
	if err != nil {
		return errors.Wrapf(consts.ErrSinkFailure, "output-stdout: %v", err)
	}
	return nil
}

func (o *StdOutput) String() string {
	return "Stdout Output, codec:" + o.codec.Name()
}
