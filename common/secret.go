package common

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ssm"
	"github.com/aws/aws-sdk-go/service/ssm/ssmiface"
)

const SecretPrefix = "ssm:"

type Helper interface {
	GetParameter(string) (string, error)
}

/* for dev env */
type devHelper struct{}

func (s *devHelper) GetParameter(key string) (string, error) {
	return key, nil
}

/* ssm */
type ssmHelper struct {
	env string
	svc ssmiface.SSMAPI
}

func (s *ssmHelper) GetParameter(key string) (string, error) {
	k := fmt.Sprintf("/%s/%s/%s", s.env, APP_NAME, key)
	if output, err := s.svc.GetParameter(&ssm.GetParameterInput{
		Name:           aws.String(k),
		WithDecryption: aws.Bool(true),
	}); err != nil {
		return "", err
	} else if output.Parameter == nil {
		return "", fmt.Errorf("parameter ( %s ) not found", k)
	} else {
		return aws.StringValue(output.Parameter.Value), nil
	}
}

func NewHelper(env string, sc *SSM) (Helper, error) {
	if strings.ToLower(env) == "development" {
		return &devHelper{}, nil
	}
	config := &aws.Config{
		Region:   aws.String(sc.Region),
		LogLevel: aws.LogLevel(aws.LogOff),
	}
	if s, err := session.NewSession(config); err != nil {
		return nil, err
	} else {
		return &ssmHelper{env: env, svc: ssm.New(s)}, nil
	}
}
