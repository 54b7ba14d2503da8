package snsqs

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	awssns "github.com/aws/aws-sdk-go/service/sns"
	"github.com/aws/aws-sdk-go/service/sns/snsiface"
	awssqs "github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
	"github.com/google/uuid"
	"github.com/s4mli/cola/mq/sqs"
	"github.com/s4mli/cola/queue"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

type fakeSNS struct {
	snsiface.SNSAPI
	published []*awssns.PublishInput
}

func (f *fakeSNS) PublishWithContext(_ aws.Context, in *awssns.PublishInput, _ ...request.Option) (
	*awssns.PublishOutput, error) {
	f.published = append(f.published, in)
	return &awssns.PublishOutput{MessageId: aws.String("sns-assigned")}, nil
}

type fakeSQS struct {
	sqsiface.SQSAPI
	messages []*awssqs.Message
}

func (f *fakeSQS) ReceiveMessageWithContext(aws.Context, *awssqs.ReceiveMessageInput, ...request.Option) (
	*awssqs.ReceiveMessageOutput, error) {
	return &awssqs.ReceiveMessageOutput{Messages: f.messages}, nil
}

func testLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func notification(t *testing.T, envelope string) string {
	b, err := json.Marshal(SNSMessage{Type: "Notification", Message: envelope, TopicArn: "arn:topic"})
	assert.Nil(t, err)
	return string(b)
}

func TestUnwrap(t *testing.T) {
	inner, err := Unwrap(notification(t, "payload"))
	assert.Nil(t, err)
	assert.Equal(t, "payload", inner)

	_, err = Unwrap(`{"Type":"Notification"}`)
	assert.NotNil(t, err)
	_, err = Unwrap("not json")
	assert.NotNil(t, err)
}

func TestPublishAndReceiveThroughTopic(t *testing.T) {
	snsSvc := &fakeSNS{}
	sqsSvc := &fakeSQS{}
	opts := Options{TopicArn: "arn:topic", QueueUrl: "u"}
	p := NewWithClients(snsSvc, sqs.NewWithClient(sqsSvc, sqsOptions(opts), testLogger()), opts, testLogger())
	ctx := context.Background()

	id := uuid.New()
	resp, err := p.Dispatch(ctx, *queue.OnQueue("q").WithContent("abc").WithId(id))
	assert.Nil(t, err)
	assert.Equal(t, id, resp.MessageId)
	assert.Equal(t, "arn:topic", aws.StringValue(snsSvc.published[0].TopicArn))

	sqsSvc.messages = []*awssqs.Message{{
		Body:          aws.String(notification(t, aws.StringValue(snsSvc.published[0].Message))),
		ReceiptHandle: aws.String("r1"),
		MessageId:     aws.String("m1"),
	}}
	received, err := p.Receive(ctx, *queue.FromQueue("q").WaitFor(1))
	assert.Nil(t, err)
	assert.Equal(t, 1, len(received.Messages))
	assert.Equal(t, id, received.Messages[0].Id)
	assert.Equal(t, "abc", received.Messages[0].Content)
}

func TestRawDeliverySkipsUnwrap(t *testing.T) {
	assert.Nil(t, sqsOptions(Options{RawDelivery: true}).Unwrap)
	assert.NotNil(t, sqsOptions(Options{}).Unwrap)
}

func TestCapabilities(t *testing.T) {
	caps := queue.CapabilitiesOf(NewWithClients(&fakeSNS{}, nil, Options{}, nil))
	assert.Equal(t, "SNSQSProvider", caps.Name)
	assert.True(t, caps.LongPolling)
}
