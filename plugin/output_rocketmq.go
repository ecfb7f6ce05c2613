package plugin

import (
	"context"
	"strings"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
	"github.com/pkg/errors"
	"github.com/vearne/httpsniffer/model"
	"github.com/vearne/httpsniffer/protocol"
	slog "github.com/vearne/simplelog"
)

// the part of rocketmq.Producer the output needs
type rocketMQProducer interface {
	SendSync(ctx context.Context, msg ...*primitive.Message) (*primitive.SendResult, error)
	Shutdown() error
}

type OutputRocketMQConfig struct {
	producer    rocketMQProducer
	NameServers []string `json:"output-rocketmq-name-server"`
	Topic       string   `json:"output-rocketmq-topic"`
	AccessKey   string   `json:"output-rocketmq-access-key"`
	SecretKey   string   `json:"output-rocketmq-secret-key"`
}

// RocketMQOutput publishes exchanges, json encoded, to a RocketMQ topic.
// The Host header is used as the message key.
type RocketMQOutput struct {
	config  *OutputRocketMQConfig
	product rocketMQProducer
	codec   protocol.Codec
}

func NewRocketMQOutput(cf *OutputRocketMQConfig) (*RocketMQOutput, error) {
	if cf.Topic == "" {
		return nil, errors.New("output-rocketmq: empty topic")
	}

	var o RocketMQOutput
	o.config = cf
	o.codec = protocol.GetCodec(protocol.CodecJsonName)
	o.product = cf.producer
	if o.product != nil {
		return &o, nil
	}

	opts := []producer.Option{
		producer.WithNsResolver(primitive.NewPassthroughResolver(cf.NameServers)),
		producer.WithRetry(3),
	}
	if len(cf.AccessKey) > 0 {
		opts = append(opts, producer.WithCredentials(primitive.Credentials{
			AccessKey: cf.AccessKey,
			SecretKey: cf.SecretKey,
		}))
	}
	p, err := rocketmq.NewProducer(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "output-rocketmq")
	}
	err = p.Start()
	slog.Info("NewRocketMQOutput, nameServers:%v, topic:%v, error:%v", cf.NameServers, cf.Topic, err)
	if err != nil {
		return nil, errors.Wrapf(err, "output-rocketmq, nameServers:%v", cf.NameServers)
	}
	o.product = p
	return &o, nil
}

func (o *RocketMQOutput) Write(ex *model.Exchange) error {
	data, err := o.codec.Marshal(ex)
	if err != nil {
		return err
	}
	msg := primitive.NewMessage(o.config.Topic, data)
	if ex.Host != "" {
		msg.WithKeys([]string{ex.Host})
	}

	result, err := o.product.SendSync(context.Background(), msg)
	if err != nil {
		slog.Error("RocketMQOutput-SendSync, error:%v", err)
		return errors.Wrapf(err, "output-rocketmq, topic:%v", o.config.Topic)
	}
	slog.Debug("RocketMQOutput-SendSync, msgID:%v, status:%v", result.MsgID, result.Status)
	return nil
}

func (o *RocketMQOutput) Close() error {
	return o.product.Shutdown()
}

func (o *RocketMQOutput) String() string {
	return "RocketMQ Output: " + strings.Join(o.config.NameServers, ",") + "/" + o.config.Topic
}
