package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/ipfs/go-cid"
)

var _ AccountTable = (*DynamoAccountTable)(nil)

type DynamoAccountTable struct {
	client    *dynamodb.Client
	tableName string
}

func NewDynamoAccountTable(client *dynamodb.Client, tableName string) *DynamoAccountTable {
	return &DynamoAccountTable{client, tableName}
}

type accountRecord struct {
	CID         string            `dynamodbav:"cid"`
	Balance     uint64            `dynamodbav:"balance"`
	Subaccounts map[string]uint64 `dynamodbav:"subaccounts"`
}

func (d *DynamoAccountTable) Init(ctx context.Context, payload cid.Cid) error {
	item, err := attributevalue.MarshalMap(accountRecord{
		CID:         payload.String(),
		Balance:     0,
		Subaccounts: map[string]uint64{},
	})
	if err != nil {
		return fmt.Errorf("serializing account record: %w", err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(cid)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			// already initialized
			return nil
		}
		return fmt.Errorf("initializing account: %w", err)
	}
	return nil
}

func (d *DynamoAccountTable) Get(ctx context.Context, payload cid.Cid) (*Account, error) {
	result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"cid": &types.AttributeValueMemberS{Value: payload.String()},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("getting account: %w", err)
	}

	if result.Item == nil {
		return nil, ErrNotFound
	}

	var record accountRecord
	if err := attributevalue.UnmarshalMap(result.Item, &record); err != nil {
		return nil, fmt.Errorf("unmarshaling account record: %w", err)
	}

	subaccounts := record.Subaccounts
	if subaccounts == nil {
		subaccounts = map[string]uint64{}
	}

	return &Account{
		Payload:     payload,
		Balance:     record.Balance,
		Subaccounts: subaccounts,
	}, nil
}

func (d *DynamoAccountTable) Credit(ctx context.Context, payload cid.Cid, subaccount string, amount uint64) error {
	// Single atomic update on both the scalar balance and the named
	// sub-account, so concurrent settlements never lose an increment.
	// ADD can't address nested map entries, hence SET + if_not_exists.
	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"cid": &types.AttributeValueMemberS{Value: payload.String()},
		},
		UpdateExpression: aws.String(
			"SET balance = if_not_exists(balance, :zero) + :amount, " +
				"subaccounts.#sub = if_not_exists(subaccounts.#sub, :zero) + :amount",
		),
		ExpressionAttributeNames: map[string]string{
			"#sub": subaccount,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":amount": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", amount)},
			":zero":   &types.AttributeValueMemberN{Value: "0"},
		},
		ConditionExpression: aws.String("attribute_exists(cid)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrNotFound
		}
		return fmt.Errorf("crediting account: %w", err)
	}
	return nil
}
