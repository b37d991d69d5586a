package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"

	qferrors "github.com/drblury/queueflow/internal/runtime/errors"
)

const nonExistentQueueCode = "AWS.SimpleQueueService.NonExistentQueue"

type sqsAPI interface {
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// SQS implements Queue on top of aws-sdk-go-v2.
type SQS struct {
	client sqsAPI
}

// NewSQS builds a client from an aws.Config. BaseEndpoint, when set, is
// honoured by the SDK for LocalStack style endpoints.
func NewSQS(cfg aws.Config) *SQS {
	return &SQS{client: sqs.NewFromConfig(cfg)}
}

func newSQSWithClient(client sqsAPI) *SQS {
	return &SQS{client: client}
}

func (q *SQS) Resolve(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: %w", qferrors.ErrQueueUnavailable, qferrors.ErrQueueNameRequired)
	}
	out, err := q.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(name)})
	if err != nil {
		return "", fmt.Errorf("resolve queue %s: %w: %w", name, qferrors.ErrQueueUnavailable, err)
	}
	return aws.ToString(out.QueueUrl), nil
}

func (q *SQS) Receive(ctx context.Context, queueURL string, max int, wait time.Duration) ([]Message, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(queueURL),
		MaxNumberOfMessages: int32(max),
		WaitTimeSeconds:     int32(wait / time.Second),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, mapError("receive", err)
	}

	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, Message{
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			MessageID:     aws.ToString(m.MessageId),
			Body:          []byte(aws.ToString(m.Body)),
			ReceiveCount:  receiveCount(m.Attributes),
		})
	}
	return msgs, nil
}

func (q *SQS) Delete(ctx context.Context, queueURL, receipt string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receipt),
	})
	return mapError("delete", err)
}

func (q *SQS) ExtendVisibility(ctx context.Context, queueURL, receipt string, d time.Duration) error {
	_, err := q.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(queueURL),
		ReceiptHandle:     aws.String(receipt),
		VisibilityTimeout: VisibilitySeconds(d),
	})
	return mapError("change visibility", err)
}

func receiveCount(attrs map[string]string) int {
	raw, ok := attrs[string(types.MessageSystemAttributeNameApproximateReceiveCount)]
	if !ok {
		return 1
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isMissingQueue(err) {
		return fmt.Errorf("%s: %w: %w", op, qferrors.ErrQueueUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isMissingQueue(err error) bool {
	var missing *types.QueueDoesNotExist
	if errors.As(err, &missing) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == nonExistentQueueCode
	}
	return false
}
