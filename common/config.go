package common

import (
	"fmt"
	"io/ioutil"
	"strings"

	"gopkg.in/yaml.v2"
)

const (
	ProviderMemory = "memory"
	ProviderSQS    = "sqs"
	ProviderSNSQS  = "snsqs"
	ProviderRabbit = "rabbit"
	ProviderSQL    = "sql"
)

type Config struct {
	SSM    SSM           `yaml:"ssm"`
	Log    Log           `yaml:"log"`
	Queues []QueueConfig `yaml:"queues"`
}

type SSM struct {
	Region string `yaml:"region"`
}

type Log struct {
	Level string `yaml:"level"`
}

type QueueConfig struct {
	Name               string `yaml:"name"`
	Provider           string `yaml:"provider"`
	EmulateLongPolling bool   `yaml:"emulateLongPolling"`
	Memory             Memory `yaml:"memory"`
	SQS                SQS    `yaml:"sqs"`
	SNSQS              SNSQS  `yaml:"snsqs"`
	Rabbit             Rabbit `yaml:"rabbit"`
	SQL                SQL    `yaml:"sql"`
}

type Memory struct {
	PollIntervalMs int `yaml:"pollIntervalMs"`
}

type SQS struct {
	Region            string `yaml:"region"`
	Url               string `yaml:"url"`
	Endpoint          string `yaml:"endpoint"`
	VisibilityTimeout int64  `yaml:"visibilityTimeout"`
}

type SNSQS struct {
	Region            string `yaml:"region"`
	TopicArn          string `yaml:"topicArn"`
	QueueUrl          string `yaml:"queueUrl"`
	Endpoint          string `yaml:"endpoint"`
	RawDelivery       bool   `yaml:"rawDelivery"`
	VisibilityTimeout int64  `yaml:"visibilityTimeout"`
}

type Rabbit struct {
	Uri           string `yaml:"uri"`
	User          string `yaml:"user"`
	Password      string `yaml:"password"`
	Exchange      string `yaml:"exchange"`
	Queue         string `yaml:"queue"`
	PrefetchCount int    `yaml:"prefetchCount"`
}

type SQL struct {
	Driver            string `yaml:"driver"`
	Host              string `yaml:"host"`
	Port              string `yaml:"port"`
	User              string `yaml:"user"`
	Password          string `yaml:"password"`
	DBName            string `yaml:"db"`
	Table             string `yaml:"table"`
	VisibilitySeconds int    `yaml:"visibilitySeconds"`
}

type Validator interface{ Validate() []error }

func (c *Config) Validate() []error {
	var errs []error
	if len(c.Queues) == 0 {
		errs = append(errs, fmt.Errorf("no queues configured"))
	}
	seen := make(map[string]bool, len(c.Queues))
	for i, q := range c.Queues {
		if strings.TrimSpace(q.Name) == "" {
			errs = append(errs, fmt.Errorf("queues[%d] has no name", i))
		} else if seen[q.Name] {
			errs = append(errs, fmt.Errorf("queue ( %s ) configured twice", q.Name))
		}
		seen[q.Name] = true
		errs = append(errs, q.Validate()...)
	}
	return errs
}

func (q *QueueConfig) Validate() []error {
	var errs []error
	missing := func(field string) {
		errs = append(errs, fmt.Errorf("queue ( %s ) missing %s", q.Name, field))
	}
	switch q.Provider {
	case ProviderMemory:
	case ProviderSQS:
		if q.SQS.Region == "" {
			missing("sqs.region")
		}
		if q.SQS.Url == "" {
			missing("sqs.url")
		}
	case ProviderSNSQS:
		if q.SNSQS.Region == "" {
			missing("snsqs.region")
		}
		if q.SNSQS.TopicArn == "" {
			missing("snsqs.topicArn")
		}
		if q.SNSQS.QueueUrl == "" {
			missing("snsqs.queueUrl")
		}
	case ProviderRabbit:
		if q.Rabbit.Uri == "" {
			missing("rabbit.uri")
		}
		if q.Rabbit.User == "" {
			missing("rabbit.user")
		}
	case ProviderSQL:
		switch q.SQL.Driver {
		case "mysql", "postgres", "mssql":
		default:
			errs = append(errs, fmt.Errorf("queue ( %s ) unknown sql.driver ( %s )", q.Name, q.SQL.Driver))
		}
		if q.SQL.Host == "" {
			missing("sql.host")
		}
		if q.SQL.DBName == "" {
			missing("sql.db")
		}
	default:
		errs = append(errs, fmt.Errorf("queue ( %s ) unknown provider ( %s )", q.Name, q.Provider))
	}
	return errs
}

// ResolveSecrets replaces credentials written as "ssm:<key>" with the parameter value.
func (c *Config) ResolveSecrets(h Helper) error {
	resolve := func(v *string) error {
		if !strings.HasPrefix(*v, SecretPrefix) {
			return nil
		}
		if s, err := h.GetParameter(strings.TrimPrefix(*v, SecretPrefix)); err != nil {
			return err
		} else {
			*v = s
			return nil
		}
	}
	for i := range c.Queues {
		q := &c.Queues[i]
		for _, v := range []*string{&q.Rabbit.User, &q.Rabbit.Password, &q.SQL.User, &q.SQL.Password} {
			if err := resolve(v); err != nil {
				return fmt.Errorf("queue ( %s ) resolve secret failed: %w", q.Name, err)
			}
		}
	}
	return nil
}

// LoadConfig reads the app -> env -> config layout from a yaml file into config.
func LoadConfig(app, env string, configFile string, config interface{}) error {
	if raw, err := ioutil.ReadFile(configFile); err != nil {
		return err
	} else {
		var appConfigs map[string]map[string]interface{}
		if err := yaml.Unmarshal(raw, &appConfigs); err != nil {
			return err
		}
		configs, ok := appConfigs[app]
		if !ok {
			return fmt.Errorf("ensure config is for %s", app)
		}
		envConfig, ok := configs[env]
		if !ok {
			return fmt.Errorf("missing config for %s", env)
		}
		if c, err := yaml.Marshal(envConfig); err != nil {
			return err
		} else if err := yaml.Unmarshal(c, config); err != nil {
			return err
		}
		if v, ok := config.(Validator); ok {
			if errs := v.Validate(); len(errs) > 0 {
				return fmt.Errorf("invalid config: %s", ErrorToString(errs))
			}
		}
		return nil
	}
}
