package plugin

import (
	"context"
	"strings"
	"testing"

	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRocketMQProducer struct {
	sent     []*primitive.Message
	err      error
	shutdown bool
}

func (p *fakeRocketMQProducer) SendSync(ctx context.Context, msg ...*primitive.Message) (*primitive.SendResult, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.sent = append(p.sent, msg...)
	return &primitive.SendResult{Status: primitive.SendOK, MsgID: "1"}, nil
}

func (p *fakeRocketMQProducer) Shutdown() error {
	p.shutdown = true
	return nil
}

func TestRocketMQOutput(t *testing.T) {
	fake := &fakeRocketMQProducer{}
	o, err := NewRocketMQOutput(&OutputRocketMQConfig{
		producer:    fake,
		NameServers: []string{"127.0.0.1:9876"},
		Topic:       "httpsniffer",
	})
	require.NoError(t, err)
	assert.Equal(t, "RocketMQ Output: 127.0.0.1:9876/httpsniffer", o.String())

	require.NoError(t, o.Write(newExchange("api.local", "/a")))
	require.Len(t, fake.sent, 1)
	msg := fake.sent[0]
	assert.Equal(t, "httpsniffer", msg.Topic)
	// keys are joined with a trailing separator
	assert.Equal(t, "api.local", strings.TrimSpace(msg.GetKeys()))

	assert.Contains(t, string(msg.Body), `"url":"/a"`)

	require.NoError(t, o.Close())
	assert.True(t, fake.shutdown)
}

func TestRocketMQOutputSendError(t *testing.T) {
	fake := &fakeRocketMQProducer{err: errors.New("broker down")}
	o, err := NewRocketMQOutput(&OutputRocketMQConfig{producer: fake, Topic: "httpsniffer"})
	require.NoError(t, err)

	err = o.Write(newExchange("api.local", "/a"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestRocketMQOutputRequiresTopic(t *testing.T) {
	_, err := NewRocketMQOutput(&OutputRocketMQConfig{producer: &fakeRocketMQProducer{}})
	assert.Error(t, err)
}
