package dynamodb

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const DefaultRegion = "us-east-1"

type AttributeValue struct {
	types.AttributeValue
}

func String(s string) AttributeValue {
	return AttributeValue{&types.AttributeValueMemberS{Value: s}}
}

func Number(n int) AttributeValue {
	return AttributeValue{&types.AttributeValueMemberN{Value: strconv.Itoa(n)}}
}

func Bool(b bool) AttributeValue {
	return AttributeValue{&types.AttributeValueMemberBOOL{Value: b}}
}

type Client interface {
	PutItem(ctx context.Context, tableName string, item map[string]AttributeValue) error
}

// putItemAPI is the part of *dynamodb.Client used here.
type putItemAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

func NewClient(ctx context.Context, region string) (Client, error) {
	if region == "" {
		region = DefaultRegion
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	return &dynamodbClientImpl{api: dynamodb.NewFromConfig(cfg)}, nil
}

type dynamodbClientImpl struct {
	api putItemAPI
}

func (d *dynamodbClientImpl) PutItem(ctx context.Context, tableName string, item map[string]AttributeValue) error {
	itemConv := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		itemConv[k] = v.AttributeValue
	}

	params := &dynamodb.PutItemInput{
		TableName: aws.String(tableName),
		Item:      itemConv,
	}

	if _, err := d.api.PutItem(ctx, params); err != nil {
		return fmt.Errorf("putting item in %s: %w", tableName, err)
	}

	return nil
}
