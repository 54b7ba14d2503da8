// Package snsqs dispatches through an SNS topic and receives from an SQS queue subscribed
// to it.
package snsqs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/aws/aws-sdk-go/service/sns/snsiface"
	"github.com/s4mli/cola/common"
	"github.com/s4mli/cola/mq/sqs"
	"github.com/s4mli/cola/queue"
	"github.com/sirupsen/logrus"
)

// message from sns to sqs
type SNSMessage struct {
	Type           string `json:"Type"`
	Message        string `json:"Message"`
	TopicArn       string `json:"TopicArn"`
	MessageId      string `json:"MessageId"`
	UnsubscribeURL string `json:"UnsubscribeURL"`
}

func Unwrap(body string) (string, error) {
	var m SNSMessage
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		return "", err
	}
	if m.Message == "" {
		return "", fmt.Errorf("not an sns notification")
	}
	return m.Message, nil
}

type Options struct {
	Region            string
	TopicArn          string
	QueueUrl          string
	Endpoint          string
	VisibilityTimeout int64
	// RawDelivery is set when the subscription delivers the published body untouched.
	RawDelivery bool
}

// Provider publishes to TopicArn; Receive and Delete go to the subscribed queue.
type Provider struct {
	*sqs.Provider
	sns      snsiface.SNSAPI
	topicArn string
	logger   logrus.FieldLogger
}

var _ queue.Provider = (*Provider)(nil)
var _ queue.Capable = (*Provider)(nil)

func (p *Provider) Capabilities() queue.Capabilities {
	return queue.Capabilities{Name: "SNSQSProvider", LongPolling: true}
}

func (p *Provider) Dispatch(ctx context.Context, message queue.Message) (*queue.DispatchResponse, error) {
	defer common.LogMetrics(p.logger, "Dispatch", time.Now(), time.Second)
	if body, err := queue.EncodeString(message); err != nil {
		return nil, err
	} else {
		if output, err := p.sns.PublishWithContext(ctx, &sns.PublishInput{
			Message:  aws.String(body),
			TopicArn: aws.String(p.topicArn),
		}); err != nil {
			p.logger.WithFields(logrus.Fields{
				"&": "Dispatch",
				"*": message.Id,
			}).Error("=> Publish failed: ", err)
			return nil, err
		} else {
			p.logger.WithField("&", "Dispatch").Debug("=> Published: ", aws.StringValue(output.MessageId))
			return &queue.DispatchResponse{MessageId: message.Id}, nil
		}
	}
}

func sqsOptions(opts Options) sqs.Options {
	o := sqs.Options{
		Region:            opts.Region,
		QueueUrl:          opts.QueueUrl,
		Endpoint:          opts.Endpoint,
		VisibilityTimeout: opts.VisibilityTimeout,
	}
	if !opts.RawDelivery {
		o.Unwrap = Unwrap
	}
	return o
}

func NewWithClients(snsSvc snsiface.SNSAPI, receiver *sqs.Provider, opts Options,
	logger logrus.FieldLogger) *Provider {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Provider{
		Provider: receiver,
		sns:      snsSvc,
		topicArn: opts.TopicArn,
		logger:   logger.WithField("#", "SNS("+opts.TopicArn+")"),
	}
}

func New(ctx context.Context, opts Options, logger logrus.FieldLogger) (*Provider, error) {
	receiver, err := sqs.New(ctx, sqsOptions(opts), logger)
	if err != nil {
		return nil, err
	}
	config := &aws.Config{
		Region:   aws.String(opts.Region),
		LogLevel: aws.LogLevel(aws.LogOff),
	}
	if opts.Endpoint != "" {
		config.Endpoint = aws.String(opts.Endpoint)
	}
	if s, err := session.NewSession(config); err != nil {
		return nil, err
	} else {
		return NewWithClients(sns.New(s), receiver, opts, logger), nil
	}
}
