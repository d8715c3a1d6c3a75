package twilio

import (
	"errors"

	_twilio "github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

type Client interface {
	SendSms(from, to, msg string) (string, error)
}

// messageCreator is the part of the Twilio REST API used here.
type messageCreator interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

func NewClient(accountSid, authToken string) (*ClientImpl, error) {
	if accountSid == "" || authToken == "" {
		return nil, errors.New("account sid and auth token cannot be empty")
	}

	client := _twilio.NewRestClientWithParams(_twilio.ClientParams{
		Username: accountSid,
		Password: authToken,
	})

	return &ClientImpl{api: client.Api}, nil
}

type ClientImpl struct {
	api messageCreator
}

// SendSms returns the SID of the created message.
func (c ClientImpl) SendSms(from, to, msg string) (string, error) {
	if from == "" || to == "" || msg == "" {
		return "", errors.New("none of the parameters can be empty")
	}

	params := &openapi.CreateMessageParams{}
	params.SetFrom(from)
	params.SetTo(to)
	params.SetBody(msg)

	message, err := c.api.CreateMessage(params)
	if err != nil {
		return "", err
	}

	if message.Sid == nil {
		return "", nil
	}
	return *message.Sid, nil
}
