package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/s4mli/cola/cleaner"
	"github.com/s4mli/cola/common"
	"github.com/s4mli/cola/consumer"
	"github.com/s4mli/cola/mq"
	"github.com/s4mli/cola/queue"
	"github.com/s4mli/cola/restful"
	"github.com/sirupsen/logrus"
)

const usage = `usage: cola [-config file] <command> [flags]

commands:
  queues                                  list registered queues
  dispatch -queue q -content c [-ttl d]   dispatch one message
  receive  -queue q [-n n] [-wait s]      receive and print messages
  delete   -queue q -receipt r [-attr k=v]
  consume  -queue q [-workers n] [-wait s]  print and delete until interrupted
  serve    [-port p]                      serve the queues over http until interrupted
`

type attributes map[string]string

func (a attributes) String() string { return fmt.Sprintf("%v", map[string]string(a)) }

func (a attributes) Set(v string) error {
	kv := strings.SplitN(v, "=", 2)
	if len(kv) != 2 {
		return fmt.Errorf("attribute ( %s ) is not k=v", v)
	}
	a[kv[0]] = kv[1]
	return nil
}

func main() {
	env := os.Getenv(fmt.Sprintf("%s_env", common.APP_NAME))
	if env == "" {
		env = "development"
	}
	var configFile string
	flag.StringVar(&configFile, "config", "./config.yaml", "configuration file to load")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	var c common.Config
	if err := common.LoadConfig(common.APP_NAME, env, configFile, &c); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := common.NewLogger(c.Log.Level)
	if h, err := common.NewHelper(env, &c.SSM); err != nil {
		logger.Fatal("=> Secrets failed: ", err)
	} else if err := c.ResolveSecrets(h); err != nil {
		logger.Fatal("=> Secrets failed: ", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	registrations, err := mq.Registrations(ctx, c.Queues, logger)
	if err != nil {
		logger.Fatal("=> Build queues failed: ", err)
	}
	m, err := queue.NewManager(logger, registrations)
	if err != nil {
		logger.Fatal("=> Register queues failed: ", err)
	}
	defer cleaner.Cleanup(logger, "exit")

	if err := run(ctx, m, logger, flag.Arg(0), flag.Args()[1:]); err != nil {
		logger.Error("=> ", err)
		cleaner.Cleanup(logger, "error")
		os.Exit(1)
	}
}

func run(ctx context.Context, m *queue.Manager, logger logrus.FieldLogger, command string, args []string) error {
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	q := fs.String("queue", "", "queue name")
	switch command {
	case "queues":
		for _, r := range m.RegisteredQueueProviders() {
			caps := queue.CapabilitiesOf(r.Provider)
			fmt.Printf("%s\t%s\tlongPolling=%t\temulated=%t\n", r.Name, caps.Name, caps.LongPolling,
				r.EmulateLongPolling)
		}
		return nil
	case "dispatch":
		content := fs.String("content", "", "message content")
		id := fs.String("id", "", "message id, generated when empty")
		ttl := fs.Duration("ttl", 0, "expire the message after this long")
		if err := fs.Parse(args); err != nil {
			return err
		}
		msg := queue.OnQueue(*q).WithContent(*content)
		if *id != "" {
			if u, err := uuid.Parse(*id); err != nil {
				return err
			} else {
				msg = msg.WithId(u)
			}
		}
		if *ttl > 0 {
			msg = msg.WhichExpiresIn(*ttl)
		}
		if resp, err := m.Dispatch(ctx, msg); err != nil {
			return err
		} else {
			fmt.Println(resp.MessageId)
			return nil
		}
	case "receive":
		n := fs.Int("n", 1, "messages to receive")
		wait := fs.Int("wait", 0, "seconds to long poll")
		if err := fs.Parse(args); err != nil {
			return err
		}
		r := queue.FromQueue(*q).TakeMessages(*n)
		if *wait > 0 {
			r = r.WaitFor(*wait)
		}
		if resp, err := m.Receive(ctx, r); err != nil {
			return err
		} else {
			for _, msg := range resp.Messages {
				printReceived(msg)
			}
			return nil
		}
	case "delete":
		receipt := fs.String("receipt", "", "receipt handle")
		attrs := attributes{}
		fs.Var(attrs, "attr", "deletion attribute k=v, repeatable")
		if err := fs.Parse(args); err != nil {
			return err
		}
		d := queue.OffOfQueue(*q).WithReceiptHandle(*receipt)
		for k, v := range attrs {
			d = d.WithDeletionAttribute(k, v)
		}
		if resp, err := m.Delete(ctx, d); err != nil {
			return err
		} else {
			fmt.Println(resp.Success)
			return nil
		}
	case "consume":
		workers := fs.Int("workers", 1, "concurrent receivers")
		n := fs.Int("n", 10, "messages per receive")
		wait := fs.Int("wait", 20, "seconds to long poll")
		if err := fs.Parse(args); err != nil {
			return err
		}
		r := queue.FromQueue(*q).TakeMessages(*n).WaitFor(*wait)
		consumer.New(ctx, m, *r, *workers, func(_ context.Context, msg queue.ReceivedMessage) error {
			printReceived(msg)
			return nil
		}, logger).Run()
		cleaner.Run(ctx, logger)
		return nil
	case "serve":
		port := fs.Int("port", 8080, "http port")
		if err := fs.Parse(args); err != nil {
			return err
		}
		cleaner.Register(restful.NewAPI(logger).ForManager(m).Start(*port))
		cleaner.Run(ctx, logger)
		return nil
	default:
		return fmt.Errorf("unknown command ( %s )", command)
	}
}

func printReceived(msg queue.ReceivedMessage) {
	expiry := "-"
	if msg.Expiry != nil {
		expiry = msg.Expiry.UTC().Format(time.RFC3339)
	}
	fmt.Printf("%s\t%s\t%s\t%s\t%v\n", msg.Id, msg.ReceiptHandle, expiry, msg.Content, msg.DeletionAttributes)
}
