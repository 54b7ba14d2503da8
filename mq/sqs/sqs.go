// Package sqs is the Amazon SQS queue provider.
package sqs

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
	"github.com/s4mli/cola/common"
	"github.com/s4mli/cola/queue"
	"github.com/sirupsen/logrus"
)

const (
	MaxMessagesPerReceive = 10
	MaxSecondsToWait      = 20

	AttributeMessageId = "MessageId"

	slowCall = time.Second
)

type Options struct {
	Region            string
	QueueUrl          string
	Endpoint          string
	VisibilityTimeout int64
	// Unwrap extracts the envelope from a message body, e.g. an SNS notification.
	Unwrap func(body string) (string, error)
}

type Provider struct {
	svc        sqsiface.SQSAPI
	url        string
	visibility int64
	unwrap     func(string) (string, error)
	decoder    *queue.Decoder
	logger     logrus.FieldLogger
}

var _ queue.Provider = (*Provider)(nil)
var _ queue.Capable = (*Provider)(nil)

func (p *Provider) Capabilities() queue.Capabilities {
	return queue.Capabilities{Name: "SQSProvider", LongPolling: true}
}

func (p *Provider) Dispatch(ctx context.Context, message queue.Message) (*queue.DispatchResponse, error) {
	defer common.LogMetrics(p.logger, "Dispatch", time.Now(), slowCall)
	if body, err := queue.EncodeString(message); err != nil {
		return nil, err
	} else {
		if resp, err := p.svc.SendMessageWithContext(ctx, &sqs.SendMessageInput{
			MessageBody: aws.String(body),
			QueueUrl:    aws.String(p.url),
		}); err != nil {
			p.logger.WithField("&", "Dispatch").Error("=> SendMessage failed: ", err)
			return nil, err
		} else {
			p.logger.WithField("&", "Dispatch").Debug("=> Sent: ", aws.StringValue(resp.MessageId))
			return &queue.DispatchResponse{MessageId: message.Id}, nil
		}
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Receive uses native long polling; waits beyond 20 seconds and batches beyond 10
// messages are capped by SQS.
func (p *Provider) Receive(ctx context.Context, receivable queue.Receivable) (*queue.ReceiveResponse, error) {
	input := &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(p.url),
		MaxNumberOfMessages:   aws.Int64(int64(clamp(receivable.MessagesToReceive, 1, MaxMessagesPerReceive))),
		AttributeNames:        []*string{aws.String("All")},
		MessageAttributeNames: []*string{aws.String("All")},
	}
	if receivable.LongPoll() {
		input.WaitTimeSeconds = aws.Int64(int64(clamp(*receivable.SecondsToWait, 0, MaxSecondsToWait)))
	}
	if p.visibility > 0 {
		input.VisibilityTimeout = aws.Int64(p.visibility)
	}

	output, err := p.svc.ReceiveMessageWithContext(ctx, input)
	if err != nil {
		p.logger.WithField("&", "Receive").Error("=> ReceiveMessage failed: ", err)
		return nil, err
	}
	messages := make([]queue.ReceivedMessage, 0, len(output.Messages))
	for _, m := range output.Messages {
		body := aws.StringValue(m.Body)
		if p.unwrap != nil {
			if body, err = p.unwrap(body); err != nil {
				p.logger.WithField("&", "Receive").Warn("=> Unwrap skipped: ", err)
				continue
			}
		}
		d := queue.OffOfQueue(receivable.Queue).
			WithReceiptHandle(aws.StringValue(m.ReceiptHandle)).
			WithDeletionAttribute(AttributeMessageId, aws.StringValue(m.MessageId))
		if received, ok := p.decoder.Handle(ctx, []byte(body), *d); ok {
			messages = append(messages, *received)
		}
	}
	return &queue.ReceiveResponse{Messages: messages}, nil
}

func (p *Provider) Delete(ctx context.Context, deletable queue.Deletable) (*queue.DeleteResponse, error) {
	if _, err := p.svc.DeleteMessageWithContext(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(p.url),
		ReceiptHandle: aws.String(deletable.ReceiptHandle),
	}); err != nil {
		if isGone(err) {
			p.logger.WithField("&", "Delete").Debug("=> Already gone: ", err)
			return &queue.DeleteResponse{Success: true}, nil
		}
		p.logger.WithField("&", "Delete").Error("=> DeleteMessage failed: ", err)
		return nil, err
	}
	return &queue.DeleteResponse{Success: true}, nil
}

func isGone(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case sqs.ErrCodeReceiptHandleIsInvalid, sqs.ErrCodeMessageNotInflight:
			return true
		}
	}
	return false
}

func connect(ctx context.Context, logger logrus.FieldLogger, region, endpoint string) (*sqs.SQS, error) {
	config := &aws.Config{
		Region:   aws.String(region),
		LogLevel: aws.LogLevel(aws.LogOff),
	}
	if endpoint != "" {
		config.Endpoint = aws.String(endpoint)
	}
	for retry := 1; ; retry++ {
		if s, err := session.NewSession(config); err != nil {
			logger.WithField("&", "connect").Errorf("=> Failed ( %d, %s )", retry, err.Error())
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(common.RandomDuration(retry)):
			}
		} else {
			return sqs.New(s, config), nil
		}
	}
}

func NewWithClient(svc sqsiface.SQSAPI, opts Options, logger logrus.FieldLogger) *Provider {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("#", "SQS("+opts.QueueUrl+")")
	p := &Provider{
		svc:        svc,
		url:        opts.QueueUrl,
		visibility: opts.VisibilityTimeout,
		unwrap:     opts.Unwrap,
		logger:     logger,
	}
	p.decoder = &queue.Decoder{Logger: logger, Delete: p.Delete}
	return p
}

func New(ctx context.Context, opts Options, logger logrus.FieldLogger) (*Provider, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if svc, err := connect(ctx, logger, opts.Region, opts.Endpoint); err != nil {
		return nil, err
	} else {
		return NewWithClient(svc, opts, logger), nil
	}
}
