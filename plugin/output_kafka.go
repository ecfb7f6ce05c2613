package plugin

import (
	"strings"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
	"github.com/vearne/httpsniffer/model"
	"github.com/vearne/httpsniffer/protocol"
	slog "github.com/vearne/simplelog"
)

// OutputKafkaConfig is the representation of kafka output configuration
type OutputKafkaConfig struct {
	producer   sarama.SyncProducer
	Host       string `json:"output-kafka-host"`
	Topic      string `json:"output-kafka-topic"`
	SASLConfig SASLKafkaConfig
}

// SASLKafkaConfig SASL configuration
type SASLKafkaConfig struct {
	UseSASL   bool   `json:"output-kafka-use-sasl"`
	Mechanism string `json:"output-kafka-mechanism"`
	Username  string `json:"output-kafka-username"`
	Password  string `json:"output-kafka-password"`
}

// KafkaOutput publishes exchanges, json encoded, to a kafka topic.
// The Host header is used as the message key.
type KafkaOutput struct {
	config   *OutputKafkaConfig
	producer sarama.SyncProducer
	codec    protocol.Codec
}

func NewKafkaOutput(cf *OutputKafkaConfig) (*KafkaOutput, error) {
	if cf.Topic == "" {
		return nil, errors.New("output-kafka: empty topic")
	}

	producer := cf.producer
	if producer == nil {
		c := sarama.NewConfig()
		c.Producer.RequiredAcks = sarama.WaitForLocal
		c.Producer.Compression = sarama.CompressionSnappy
		c.Producer.Return.Successes = true
		if cf.SASLConfig.UseSASL {
			c.Net.SASL.Enable = true
			c.Net.SASL.Mechanism = sarama.SASLMechanism(cf.SASLConfig.Mechanism)
			c.Net.SASL.User = cf.SASLConfig.Username
			c.Net.SASL.Password = cf.SASLConfig.Password
		}

		brokers := strings.Split(cf.Host, ",")
		var err error
		producer, err = sarama.NewSyncProducer(brokers, c)
		if err != nil {
			return nil, errors.Wrapf(err, "output-kafka, brokers:%v", brokers)
		}
	}

	o := &KafkaOutput{
		config:   cf,
		producer: producer,
		codec:    protocol.GetCodec(protocol.CodecJsonName),
	}
	slog.Info("output-kafka, host:%v, topic:%v", cf.Host, cf.Topic)
	return o, nil
}

func (o *KafkaOutput) Write(ex *model.Exchange) error {
	data, err := o.codec.Marshal(ex)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: o.config.Topic,
		Key:   sarama.StringEncoder(ex.Host),
		Value: sarama.ByteEncoder(data),
	}
	_, _, err = o.producer.SendMessage(msg)
	if err != nil {
		return errors.Wrapf(err, "output-kafka, topic:%v", o.config.Topic)
	}
	return nil
}

func (o *KafkaOutput) Close() error {
	return o.producer.Close()
}

func (o *KafkaOutput) String() string {
	return "Kafka Output: " + o.config.Host + "/" + o.config.Topic
}
