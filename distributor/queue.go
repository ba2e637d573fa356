package distributor

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/photocampus/feedengine/feed"
	"github.com/pkg/errors"
)

// Envelope wraps an event payload with its topic for transports that do
// not carry topics natively (one SQS queue serves every event kind).
type Envelope struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

type MessageQueueMessage interface {
	Read() (string, error)
}

type MessageQueueReader interface {
	ReceiveMessages(maxNumberOfMessages int64) ([]MessageQueueMessage, error)
	DeleteMessage(msg MessageQueueMessage) error
}

type SQSMessageQueueReader struct {
	readTimeout int64
	queueName   string
	url         string
	client      *sqs.SQS
}

type SQSMessageQueueMessage struct {
	Message       *string
	MessageId     *string
	ReceiptHandle string
}

func (msg *SQSMessageQueueMessage) Read() (string, error) {
	if msg.Message == nil {
		return "", errors.New("empty message body")
	}
	return *msg.Message, nil
}

func NewSQSMessageQueueReader(queueName string, readingTimeout int64) (*SQSMessageQueueReader, error) {
	if queueName == "" {
		return nil, errors.New("please specify queue name")
	}
	if readingTimeout < 0 || readingTimeout > 20 {
		return nil, errors.New("readingTimeout should be >= 0 and <= 20")
	}

	// Credentials come from the shared AWS config (~/.aws/credentials or
	// task role).
	sess := session.Must(session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	}))
	client := sqs.New(sess)

	url, err := client.GetQueueUrl(&sqs.GetQueueUrlInput{
		QueueName: &queueName,
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == sqs.ErrCodeQueueDoesNotExist {
			return nil, errors.Errorf("unable to find queue %q", queueName)
		}
		return nil, errors.Wrapf(err, "unable to open queue %q", queueName)
	}

	return &SQSMessageQueueReader{
		queueName:   queueName,
		url:         *url.QueueUrl,
		readTimeout: readingTimeout,
		client:      client,
	}, nil
}

func (reader *SQSMessageQueueReader) ReceiveMessages(maxNumberOfMessages int64) ([]MessageQueueMessage, error) {
	if maxNumberOfMessages < 1 || maxNumberOfMessages > 10 {
		return nil, errors.New("maxNumberOfMessages should be >= 1 and <= 10")
	}

	result, err := reader.client.ReceiveMessage(&sqs.ReceiveMessageInput{
		QueueUrl:            &reader.url,
		MaxNumberOfMessages: aws.Int64(maxNumberOfMessages),
		WaitTimeSeconds:     &reader.readTimeout,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read from queue %q", reader.queueName)
	}

	messages := make([]MessageQueueMessage, 0, len(result.Messages))
	for _, m := range result.Messages {
		handle := ""
		if m.ReceiptHandle != nil {
			handle = *m.ReceiptHandle
		}
		messages = append(messages, &SQSMessageQueueMessage{
			Message:       m.Body,
			MessageId:     m.MessageId,
			ReceiptHandle: handle,
		})
	}
	return messages, nil
}

func (reader *SQSMessageQueueReader) DeleteMessage(msg MessageQueueMessage) error {
	sqsMsg, ok := msg.(*SQSMessageQueueMessage)
	if !ok {
		return errors.New("not an SQS message")
	}
	_, err := reader.client.DeleteMessage(&sqs.DeleteMessageInput{
		QueueUrl:      &reader.url,
		ReceiptHandle: &sqsMsg.ReceiptHandle,
	})
	return errors.Wrap(err, "fail to delete message")
}

// SNSEventSink publishes enveloped events to one SNS topic, fanned into
// the distributor's SQS queue in the split deployment.
type SNSEventSink struct {
	client   *sns.SNS
	topicArn string
}

func NewSNSEventSink(topicArn string) (*SNSEventSink, error) {
	if topicArn == "" {
		return nil, errors.New("please specify SNS topic arn")
	}
	sess := session.Must(session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	}))
	return &SNSEventSink{client: sns.New(sess), topicArn: topicArn}, nil
}

func (s *SNSEventSink) Publish(topic string, payload interface{}) error {
	inner, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "fail to marshal event payload")
	}
	body, err := json.Marshal(Envelope{Topic: topic, Payload: inner})
	if err != nil {
		return errors.Wrap(err, "fail to marshal event envelope")
	}
	message := string(body)
	_, err = s.client.Publish(&sns.PublishInput{
		TopicArn: &s.topicArn,
		Message:  &message,
	})
	return errors.Wrapf(err, "fail to publish %s event", topic)
}

// DispatchEnvelope routes one enveloped event to the distributor. Used
// by the queue-consuming binary.
func DispatchEnvelope(ctx context.Context, d *Distributor, raw string) error {
	var envelope Envelope
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return errors.Wrap(err, "fail to decode event envelope")
	}

	switch envelope.Topic {
	case feed.TopicPostCreated:
		var event feed.PostCreatedEvent
		if err := json.Unmarshal(envelope.Payload, &event); err != nil {
			return errors.Wrap(err, "fail to decode post created event")
		}
		_, err := d.DistributePost(ctx, event.PostID)
		return err
	case feed.TopicInteraction:
		var event feed.InteractionEvent
		if err := json.Unmarshal(envelope.Payload, &event); err != nil {
			return errors.Wrap(err, "fail to decode interaction event")
		}
		return d.HandleInteraction(ctx, event.UserID, event.PostID, event.Kind)
	default:
		return errors.Errorf("unhandled event topic %q", envelope.Topic)
	}
}
