package protocol

import (
	"encoding/base64"

	jsoniter "github.com/json-iterator/go"
	"github.com/vearne/httpsniffer/model"
	"github.com/vearne/httpsniffer/util"
)

const CodecJsonName = "json"

const BodyEncodingBase64 = "base64"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func init() {
	RegisterCodec(CodecJson{})
}

type MsgItem struct {
	Header string `json:"header"`
	Body   string `json:"body"`
	// empty for text, BodyEncodingBase64 otherwise
	BodyEncoding string `json:"bodyEncoding,omitempty"`
	Complete     bool   `json:"complete"`
	Malformed    bool   `json:"malformed,omitempty"`
}

// Message is the JSON document written for each exchange, one per line.
type Message struct {
	*model.Exchange
	Request  MsgItem `json:"request"`
	Response MsgItem `json:"response"`
}

func NewMessage(ex *model.Exchange) *Message {
	var msg Message
	msg.Exchange = ex
	msg.Request = newMsgItem(ex, model.DirRequest)
	msg.Response = newMsgItem(ex, model.DirResponse)
	return &msg
}

func newMsgItem(ex *model.Exchange, dir model.Dir) MsgItem {
	var item MsgItem
	item.Header = string(ex.RawHeader[dir])
	item.Complete = ex.Complete[dir]
	item.Malformed = ex.Malformed[dir]
	body := ex.Body[dir]
	if util.IsProbablyText(body) {
		item.Body = string(body)
	} else {
		item.Body = base64.StdEncoding.EncodeToString(body)
		item.BodyEncoding = BodyEncodingBase64
	}
	return item
}

type CodecJson struct{}

func (c CodecJson) Marshal(ex *model.Exchange) ([]byte, error) {
	data, err := json.Marshal(NewMessage(ex))
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func (c CodecJson) Name() string {
	return CodecJsonName
}
