package daostate

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/ipfs/go-cid"
	"github.com/storacha/go-ucanto/did"
)

// statePK is the partition key of the singleton state row.
const statePK = "STATE"

var _ StateTable = (*DynamoStateTable)(nil)

type DynamoStateTable struct {
	client    *dynamodb.Client
	tableName string
}

func NewDynamoStateTable(client *dynamodb.Client, tableName string) *DynamoStateTable {
	return &DynamoStateTable{client, tableName}
}

type dataRecordItem struct {
	Payload   string `dynamodbav:"payload"`
	DealID    uint64 `dynamodbav:"dealID"`
	Provider  string `dynamodbav:"provider"`
	Reward    uint64 `dynamodbav:"reward"`
	Settled   bool   `dynamodbav:"settled"`
	SettledAt string `dynamodbav:"settledAt,omitempty"`
}

type stateItem struct {
	PK           string           `dynamodbav:"PK"`
	Admin        string           `dynamodbav:"admin"`
	Members      []string         `dynamodbav:"members"`
	Records      []dataRecordItem `dynamodbav:"records"`
	TotalPledged uint64           `dynamodbav:"totalPledged"`
	TotalPaid    uint64           `dynamodbav:"totalPaid"`
}

func (d *DynamoStateTable) Get(ctx context.Context) (*State, error) {
	result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: statePK},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("getting DAO state: %w", err)
	}

	if result.Item == nil {
		return nil, ErrNotFound
	}

	var item stateItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshaling DAO state: %w", err)
	}

	return unmarshalState(item)
}

func (d *DynamoStateTable) Put(ctx context.Context, state *State) error {
	item, err := attributevalue.MarshalMap(marshalState(state))
	if err != nil {
		return fmt.Errorf("serializing DAO state: %w", err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("storing DAO state: %w", err)
	}
	return nil
}

func marshalState(state *State) stateItem {
	members := make([]string, 0, len(state.Members))
	for _, m := range state.Members {
		members = append(members, m.String())
	}

	records := make([]dataRecordItem, 0, len(state.Records))
	for _, r := range state.Records {
		item := dataRecordItem{
			Payload:  r.Payload.String(),
			DealID:   r.DealID,
			Provider: r.Provider.String(),
			Reward:   r.Reward,
			Settled:  r.Settled,
		}
		if !r.SettledAt.IsZero() {
			item.SettledAt = r.SettledAt.UTC().Format(time.RFC3339)
		}
		records = append(records, item)
	}

	return stateItem{
		PK:           statePK,
		Admin:        state.Admin.String(),
		Members:      members,
		Records:      records,
		TotalPledged: state.TotalPledged,
		TotalPaid:    state.TotalPaid,
	}
}

func unmarshalState(item stateItem) (*State, error) {
	admin, err := did.Parse(item.Admin)
	if err != nil {
		return nil, fmt.Errorf("parsing admin DID: %w", err)
	}

	members := make([]did.DID, 0, len(item.Members))
	for _, m := range item.Members {
		member, err := did.Parse(m)
		if err != nil {
			return nil, fmt.Errorf("parsing member DID: %w", err)
		}
		members = append(members, member)
	}

	records := make([]DataRecord, 0, len(item.Records))
	for _, r := range item.Records {
		payload, err := cid.Decode(r.Payload)
		if err != nil {
			return nil, fmt.Errorf("parsing payload CID: %w", err)
		}

		provider, err := did.Parse(r.Provider)
		if err != nil {
			return nil, fmt.Errorf("parsing provider DID: %w", err)
		}

		record := DataRecord{
			Payload:  payload,
			DealID:   r.DealID,
			Provider: provider,
			Reward:   r.Reward,
			Settled:  r.Settled,
		}
		if r.SettledAt != "" {
			settledAt, err := time.Parse(time.RFC3339, r.SettledAt)
			if err != nil {
				return nil, fmt.Errorf("parsing settlement time: %w", err)
			}
			record.SettledAt = settledAt
		}
		records = append(records, record)
	}

	return &State{
		Admin:        admin,
		Members:      members,
		Records:      records,
		TotalPledged: item.TotalPledged,
		TotalPaid:    item.TotalPaid,
	}, nil
}
