package rabbit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/s4mli/cola/queue"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
)

type fakeChannel struct {
	mu        sync.Mutex
	published []amqp.Publishing
	keys      []string
	ready     map[string][]amqp.Delivery
	acked     []uint64
	nacked    []uint64
	requeued  []uint64
	nextTag   uint64
	gets      int
	failGet   int
	getErr    error
}

func newFakeChannel() *fakeChannel { return &fakeChannel{ready: map[string][]amqp.Delivery{}} }

func (c *fakeChannel) Publish(_, key string, _, _ bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, msg)
	c.keys = append(c.keys, key)
	c.nextTag++
	c.ready[key] = append(c.ready[key], amqp.Delivery{DeliveryTag: c.nextTag, Body: msg.Body})
	return nil
}

func (c *fakeChannel) Get(q string, _ bool) (amqp.Delivery, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.failGet > 0 && c.gets >= c.failGet {
		return amqp.Delivery{}, false, c.getErr
	}
	if len(c.ready[q]) == 0 {
		return amqp.Delivery{}, false, nil
	}
	d := c.ready[q][0]
	c.ready[q] = c.ready[q][1:]
	return d, true, nil
}

func (c *fakeChannel) Ack(tag uint64, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acked = append(c.acked, tag)
	return nil
}

func (c *fakeChannel) Nack(tag uint64, _ bool, requeue bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if requeue {
		c.requeued = append(c.requeued, tag)
		c.ready["q"] = append(c.ready["q"], amqp.Delivery{DeliveryTag: tag})
	} else {
		c.nacked = append(c.nacked, tag)
	}
	return nil
}

type fakeSource struct {
	ch         *fakeChannel
	generation uint64
	err        error
}

func (s *fakeSource) Channel() (Channel, uint64, error) {
	if s.err != nil {
		return nil, s.generation, s.err
	}
	return s.ch, s.generation, nil
}

func testLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestDispatchReceiveDelete(t *testing.T) {
	source := &fakeSource{ch: newFakeChannel(), generation: 1}
	p := NewWithSource(source, Options{}, testLogger())
	ctx := context.Background()

	id := uuid.New()
	_, err := p.Dispatch(ctx, *queue.OnQueue("events").WithContent("abc").WithId(id).
		WhichExpiresIn(time.Hour))
	assert.Nil(t, err)
	assert.Equal(t, "events", source.ch.keys[0])
	assert.Equal(t, id.String(), source.ch.published[0].MessageId)
	assert.Equal(t, amqp.Persistent, source.ch.published[0].DeliveryMode)
	assert.NotEmpty(t, source.ch.published[0].Expiration)

	resp, err := p.Receive(ctx, *queue.FromQueue("events").TakeMessages(5))
	assert.Nil(t, err)
	assert.Equal(t, 1, len(resp.Messages))
	m := resp.Messages[0]
	assert.Equal(t, id, m.Id)
	assert.Equal(t, "1:1", m.ReceiptHandle)

	for i := 0; i < 2; i++ {
		d, err := p.Delete(ctx, m.Deletable())
		assert.Nil(t, err)
		assert.True(t, d.Success)
	}
	assert.Equal(t, []uint64{1}, source.ch.acked)
}

func TestRoutingKeyOverride(t *testing.T) {
	source := &fakeSource{ch: newFakeChannel()}
	p := NewWithSource(source, Options{Queue: "broker-queue"}, testLogger())
	_, err := p.Dispatch(context.Background(), *queue.OnQueue("logical").WithContent("abc").WithId(uuid.New()))
	assert.Nil(t, err)
	assert.Equal(t, "broker-queue", source.ch.keys[0])
}

func TestLongPollRejected(t *testing.T) {
	p := NewWithSource(&fakeSource{ch: newFakeChannel()}, Options{}, testLogger())
	_, err := p.Receive(context.Background(), *queue.FromQueue("q").WaitFor(1))
	assert.True(t, errors.Is(err, queue.ErrFeatureNotSupported))
	assert.False(t, queue.CapabilitiesOf(p).LongPolling)
}

func TestMalformedIsNacked(t *testing.T) {
	ch := newFakeChannel()
	ch.ready["q"] = []amqp.Delivery{{DeliveryTag: 7, Body: []byte("garbage")}}
	p := NewWithSource(&fakeSource{ch: ch}, Options{}, testLogger())
	resp, err := p.Receive(context.Background(), *queue.FromQueue("q"))
	assert.Nil(t, err)
	assert.Equal(t, 0, len(resp.Messages))
	assert.Equal(t, []uint64{7}, ch.nacked)
}

func TestStaleGenerationCountsAsDeleted(t *testing.T) {
	source := &fakeSource{ch: newFakeChannel(), generation: 1}
	p := NewWithSource(source, Options{}, testLogger())
	ctx := context.Background()
	_, _ = p.Dispatch(ctx, *queue.OnQueue("q").WithContent("abc").WithId(uuid.New()))
	resp, _ := p.Receive(ctx, *queue.FromQueue("q"))

	source.generation = 2
	d, err := p.Delete(ctx, resp.Messages[0].Deletable())
	assert.Nil(t, err)
	assert.True(t, d.Success)
	assert.Equal(t, 0, len(source.ch.acked))
}

func TestChannelUnavailable(t *testing.T) {
	p := NewWithSource(&fakeSource{err: errors.New("reconnecting")}, Options{}, testLogger())
	_, err := p.Dispatch(context.Background(), *queue.OnQueue("q").WithContent("abc").WithId(uuid.New()))
	assert.NotNil(t, err)
	_, err = p.Receive(context.Background(), *queue.FromQueue("q"))
	assert.NotNil(t, err)
}

func TestReceipt(t *testing.T) {
	g, tag, err := parseReceipt(receipt(3, 42))
	assert.Nil(t, err)
	assert.Equal(t, uint64(3), g)
	assert.Equal(t, uint64(42), tag)
	_, _, err = parseReceipt("nope")
	assert.NotNil(t, err)
}

func TestExpiration(t *testing.T) {
	now := time.Now()
	assert.Equal(t, "", expiration(nil, now))
	past := now.Add(-time.Minute)
	assert.Equal(t, "0", expiration(&past, now))
	future := now.Add(1500 * time.Millisecond)
	assert.Equal(t, "1500", expiration(&future, now))
}

func TestGetFailureRequeuesTaken(t *testing.T) {
	source := &fakeSource{ch: newFakeChannel(), generation: 1}
	p := NewWithSource(source, Options{}, testLogger())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = p.Dispatch(ctx, *queue.OnQueue("q").WithContent("abc").WithId(uuid.New()))
	}
	source.ch.failGet, source.ch.getErr = 2, errors.New("channel closed")

	_, err := p.Receive(ctx, *queue.FromQueue("q").TakeMessages(3))
	assert.NotNil(t, err)
	assert.Equal(t, []uint64{1}, source.ch.requeued)
	assert.Equal(t, 0, len(source.ch.acked))
	_, outstanding := p.outstanding.Load(receipt(1, 1))
	assert.False(t, outstanding)
}

// arrivingClock publishes late messages the first time the poll waits.
type arrivingClock struct {
	now    time.Time
	arrive func()
}

func (c *arrivingClock) Now() time.Time { return c.now }

func (c *arrivingClock) After(d time.Duration) <-chan time.Time {
	c.now = c.now.Add(d)
	if c.arrive != nil {
		c.arrive()
		c.arrive = nil
	}
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func TestEmulatedLongPollReturnsEveryDeliveryTaken(t *testing.T) {
	source := &fakeSource{ch: newFakeChannel(), generation: 1}
	p := NewWithSource(source, Options{}, testLogger())
	ctx := context.Background()
	dispatch := func() {
		_, _ = p.Dispatch(ctx, *queue.OnQueue("q").WithContent("abc").WithId(uuid.New()))
	}
	dispatch()
	clock := &arrivingClock{now: time.Now(), arrive: func() {
		for i := 0; i < 3; i++ {
			dispatch()
		}
	}}
	m, err := queue.NewManager(testLogger(),
		[]queue.Registration{{Name: "q", Provider: p, EmulateLongPolling: true}},
		queue.WithPoller(queue.NewLongPoll(time.Millisecond, clock)))
	assert.Nil(t, err)

	resp, err := m.Receive(ctx, queue.FromQueue("q").TakeMessages(2).WaitFor(1))
	assert.Nil(t, err)
	assert.Equal(t, 2, len(resp.Messages))
	taken := len(source.ch.published) - len(source.ch.ready["q"])
	assert.Equal(t, len(resp.Messages), taken)

	for _, received := range resp.Messages {
		_, err := m.DeleteReceived(ctx, &received)
		assert.Nil(t, err)
	}
	assert.Equal(t, []uint64{1, 2}, source.ch.acked)
}
