package http1

import (
	"github.com/vearne/httpsniffer/decompress"
	"github.com/vearne/httpsniffer/model"
	slog "github.com/vearne/simplelog"
)

// PostProcess decodes the response body according to the recorded
// Content-Encoding. On failure the body is left as captured.
func PostProcess(ex *model.Exchange) {
	if ex.Encoding == "" {
		return
	}
	body := ex.Body[model.DirResponse]
	if len(body) == 0 {
		return
	}

	decoded, err := decompress.Decode(ex.Encoding, body)
	if err != nil {
		ex.DecodeErr = err.Error()
		slog.Warn("decompress response body, exchange:%v, %v%v, error:%v",
			ex.ID, ex.Host, ex.URL, err)
		return
	}
	ex.Body[model.DirResponse] = decoded
}
