package plugin

import (
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/pkg/errors"
	"github.com/vearne/httpsniffer/consts"
	"github.com/vearne/httpsniffer/model"
	"github.com/vearne/httpsniffer/protocol"
	slog "github.com/vearne/simplelog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	unknownHost = "unknown-host"
	megabyte    = 1024 * 1024
	// lumberjack's rotation size when MaxSize is 0
	defaultMaxSize = 100
)

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._:\-\[\]]`)

func IsValidDir(dirPath string) error {
	info, err := os.Stat(dirPath)
	if err != nil {
		return errors.Wrap(err, "invalid directory")
	}
	if !info.IsDir() {
		return errors.Errorf("%v is not directory", dirPath)
	}
	return nil
}

type FileDirOutputConfig struct {
	// MaxSize is the maximum size in megabytes of the log file before it gets rotated.
	MaxSize int `json:"maxSize"`
	// MaxBackups is the maximum number of old log files to retain.
	MaxBackups int `json:"maxBackups"`
	// MaxAge is the maximum number of days to retain old log files based on the
	// timestamp encoded in their filename.
	MaxAge int `json:"maxAge"`
}

// FileDirOutput appends exchanges to one file per Host under a directory.
type FileDirOutput struct {
	sync.Mutex
	codec   protocol.Codec
	path    string
	cf      FileDirOutputConfig
	loggers map[string]*lumberjack.Logger
}

func NewFileDirOutput(codec string, path string, cf *FileDirOutputConfig) (*FileDirOutput, error) {
	if err := IsValidDir(path); err != nil {
		return nil, err
	}
	if codec == "" || codec == protocol.CodecConsoleName {
		codec = protocol.CodecRawName
	}

	var output FileDirOutput
	output.codec = protocol.GetCodec(codec)
	if output.codec == nil {
		return nil, errors.Errorf("output-file-directory: unknown codec %q", codec)
	}
	output.path = path
	output.cf = *cf
	output.loggers = make(map[string]*lumberjack.Logger)
	return &output, nil
}

// FileName maps a Host header to the file it is appended to.
func FileName(host string) string {
	name := unsafeFileChars.ReplaceAllString(host, "_")
	if name == "" || name == "." || name == ".." {
		return unknownHost
	}
	return name
}

func (o *FileDirOutput) logger(host string) *lumberjack.Logger {
	name := FileName(host)
	l, ok := o.loggers[name]
	if !ok {
		l = &lumberjack.Logger{
			Filename:   filepath.Join(o.path, name),
			MaxSize:    o.cf.MaxSize, // megabytes
			MaxBackups: o.cf.MaxBackups,
			MaxAge:     o.cf.MaxAge, //days
			Compress:   true,        // disabled by default
		}
		o.loggers[name] = l
		slog.Debug("output-file-directory: new file %v", l.Filename)
	}
	return l
}

func (o *FileDirOutput) Write(ex *model.Exchange) error {
	data, err := o.codec.Marshal(ex)
	if err != nil {
		return err
	}

	// lumberjack refuses a single write larger than a whole file
	if len(data) > o.maxBytes() {
		slog.Warn("output-file-directory: skip exchange, host:%v, url:%v, %v bytes exceed max size %vMB",
			ex.Host, ex.URL, len(data), o.maxBytes()/megabyte)
		return nil
	}

	o.Lock()
	defer o.Unlock()
	_, err = o.logger(ex.Host).Write(data)
	if err != nil {
		return errors.Wrapf(consts.ErrSinkFailure, "output-file-directory, host:%v, %v", ex.Host, err)
	}
	return nil
}

func (o *FileDirOutput) maxBytes() int {
	if o.cf.MaxSize > 0 {
		return o.cf.MaxSize * megabyte
	}
	return defaultMaxSize * megabyte
}

func (o *FileDirOutput) Close() error {
	o.Lock()
	defer o.Unlock()
	var firstErr error
	for _, l := range o.loggers {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (o *FileDirOutput) String() string {
	return "File Directory Output, path:" + o.path
}
