// Package mq builds queue providers from configuration.
package mq

import (
	"context"
	"fmt"
	"time"

	"github.com/s4mli/cola/common"
	sqldb "github.com/s4mli/cola/db/sql"
	"github.com/s4mli/cola/mq/memory"
	"github.com/s4mli/cola/mq/rabbit"
	"github.com/s4mli/cola/mq/snsqs"
	"github.com/s4mli/cola/mq/sqlqueue"
	"github.com/s4mli/cola/mq/sqs"
	"github.com/s4mli/cola/queue"
	"github.com/sirupsen/logrus"
)

func snsqsOptions(c common.SNSQS) snsqs.Options {
	return snsqs.Options{
		Region:            c.Region,
		TopicArn:          c.TopicArn,
		QueueUrl:          c.QueueUrl,
		Endpoint:          c.Endpoint,
		RawDelivery:       c.RawDelivery,
		VisibilityTimeout: c.VisibilityTimeout,
	}
}

func Build(ctx context.Context, c common.QueueConfig, logger logrus.FieldLogger) (queue.Provider, error) {
	logger = logger.WithField("queue", c.Name)
	switch c.Provider {
	case common.ProviderMemory:
		return memory.New(memory.Options{
			PollInterval: time.Duration(c.Memory.PollIntervalMs) * time.Millisecond,
		}, logger), nil
	case common.ProviderSQS:
		p, err := sqs.New(ctx, sqs.Options{
			Region:            c.SQS.Region,
			QueueUrl:          c.SQS.Url,
			Endpoint:          c.SQS.Endpoint,
			VisibilityTimeout: c.SQS.VisibilityTimeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	case common.ProviderSNSQS:
		p, err := snsqs.New(ctx, snsqsOptions(c.SNSQS), logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	case common.ProviderRabbit:
		p, err := rabbit.New(ctx, rabbit.Options{
			Uri:           c.Rabbit.Uri,
			User:          c.Rabbit.User,
			Password:      c.Rabbit.Password,
			Exchange:      c.Rabbit.Exchange,
			Queue:         c.Rabbit.Queue,
			PrefetchCount: c.Rabbit.PrefetchCount,
		}, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	case common.ProviderSQL:
		db, err := sqldb.Open(ctx, c.SQL.Driver, sqldb.Params{
			Host:     c.SQL.Host,
			Port:     c.SQL.Port,
			User:     c.SQL.User,
			Password: c.SQL.Password,
			DBName:   c.SQL.DBName,
		}, logger)
		if err != nil {
			return nil, err
		}
		p, err := sqlqueue.New(db, sqlqueue.Options{
			Table:      c.SQL.Table,
			Visibility: time.Duration(c.SQL.VisibilitySeconds) * time.Second,
		}, logger)
		if err != nil {
			return nil, err
		}
		if err := p.Migrate(ctx); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown provider ( %s ) for queue ( %s )", c.Provider, c.Name)
	}
}

// Registrations builds every configured queue in order.
func Registrations(ctx context.Context, configs []common.QueueConfig, logger logrus.FieldLogger) (
	[]queue.Registration, error) {
	registrations := make([]queue.Registration, 0, len(configs))
	for _, c := range configs {
		if p, err := Build(ctx, c, logger); err != nil {
			return nil, fmt.Errorf("build queue ( %s ) failed: %w", c.Name, err)
		} else {
			registrations = append(registrations, queue.Registration{
				Name:               c.Name,
				Provider:           p,
				EmulateLongPolling: c.EmulateLongPolling,
			})
		}
	}
	return registrations, nil
}
