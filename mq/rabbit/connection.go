package rabbit

import (
	"fmt"
	"sync"
	"time"

	"github.com/s4mli/cola/cleaner"
	"github.com/s4mli/cola/common"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
	"golang.org/x/net/context"
)

// Connection owns one amqp connection and one channel, re-dialing both when the broker
// drops them. Every re-dial starts a new generation; delivery tags of older generations
// are void.
type Connection struct {
	mu            sync.Mutex
	conn          *amqp.Connection
	channel       *amqp.Channel
	generation    uint64
	uri           string
	user          string
	password      string
	prefetchCount int
	ctx           context.Context
	cancel        context.CancelFunc
	logger        logrus.FieldLogger
}

func (c *Connection) Name() string { return fmt.Sprintf("⚡(%s@%s)", c.user, c.uri) }

func (c *Connection) Stop() {
	c.cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.logger.WithField("&", "Stop").Debug("=> Close")
		if err := c.conn.Close(); err != nil {
			c.logger.WithField("&", "Stop").Error("=> Close failed: ", err)
		}
	}
	c.logger.WithField("&", "Stop").Info("=> Stopped")
}

func (c *Connection) dial() error {
	conn, err := amqp.Dial(fmt.Sprintf("amqp://%s:%s@%s/", c.user, c.password, c.uri))
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}
	if err := ch.Qos(c.prefetchCount, 0, false); err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn, c.channel = conn, ch
	c.generation++
	c.mu.Unlock()
	c.logger.WithField("&", "Start").Info("=> Established")

	go c.monitor(conn.NotifyClose(make(chan *amqp.Error, 1)), ch.NotifyClose(make(chan *amqp.Error, 1)))
	return nil
}

// monitor re-dials once either the connection or the channel is closed by the broker.
func (c *Connection) monitor(connClosed, chanClosed chan *amqp.Error) {
	var err *amqp.Error
	select {
	case <-c.ctx.Done():
		return
	case err = <-connClosed:
	case err = <-chanClosed:
	}
	if err == nil {
		return
	}
	c.logger.WithField("&", "Monitor").Error("=> Dropped: ", err)
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn, c.channel = nil, nil
	c.mu.Unlock()

	for retry := 1; ; retry++ {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(common.RandomDuration(retry)):
		}
		c.logger.WithField("&", "Monitor").Info("=> Restart")
		if err := c.dial(); err != nil {
			c.logger.WithField("&", "Monitor").Errorf("=> Restart failed ( %d, %s )", retry, err)
		} else {
			return
		}
	}
}

func (c *Connection) Start() error {
	c.logger.WithField("&", "Start").Debug("=> Connect")
	return c.dial()
}

// Channel returns the live channel and its generation.
func (c *Connection) Channel() (Channel, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel == nil {
		return nil, c.generation, fmt.Errorf("%s is reconnecting", c.Name())
	}
	return c.channel, c.generation, nil
}

func NewConnection(
	ctx context.Context,
	uri, user, password string,
	prefetchCount int,
	logger logrus.FieldLogger,
) *Connection {
	c := &Connection{
		uri:           uri,
		user:          user,
		password:      password,
		prefetchCount: prefetchCount,
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger = logger.WithField("#", c.Name())
	cleaner.Register(c)
	return c
}
