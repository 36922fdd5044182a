/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"

	"github.com/suparena/entitystate/errors"
	"github.com/suparena/entitystate/logging"
	"github.com/suparena/entitystate/registry"
	"github.com/suparena/entitystate/storagemodels"
	"github.com/suparena/entitystate/transport"
)

// Attribute names written next to the record attributes.
const (
	AttrPK         = "PK"
	AttrSK         = "SK"
	AttrEntityType = "EntityType"
)

// DefaultRetryBackoff is the base delay between retried queries.
const DefaultRetryBackoff = 100 * time.Millisecond

// Client is the subset of the DynamoDB API the store uses. *dynamodb.Client
// satisfies it.
type Client interface {
	PutItem(ctx context.Context, params *sdk.PutItemInput, optFns ...func(*sdk.Options)) (*sdk.PutItemOutput, error)
	GetItem(ctx context.Context, params *sdk.GetItemInput, optFns ...func(*sdk.Options)) (*sdk.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *sdk.UpdateItemInput, optFns ...func(*sdk.Options)) (*sdk.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *sdk.DeleteItemInput, optFns ...func(*sdk.Options)) (*sdk.DeleteItemOutput, error)
	Query(ctx context.Context, params *sdk.QueryInput, optFns ...func(*sdk.Options)) (*sdk.QueryOutput, error)
}

// Store implements transport.Transport on a single DynamoDB table. Each
// entity type's keys come from its endpoint index map; every item also
// carries its entity type on the GSI partition key so List is one query.
type Store struct {
	client       Client
	tableName    string
	endpoints    *registry.Endpoints
	gsi          GSIConfig
	pageSize     int32
	maxRetries   int
	retryBackoff time.Duration
	logger       logging.Logger
	newID        func() string
	now          func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithGSI selects the index used by List. An invalid config is replaced by
// DefaultGSI.
func WithGSI(cfg GSIConfig) Option {
	return func(s *Store) { s.gsi = cfg }
}

// WithPageSize sets the query page size used by List.
func WithPageSize(n int32) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithRetry sets how often a throttled query is retried and the base delay.
func WithRetry(maxRetries int, backoff time.Duration) Option {
	return func(s *Store) {
		s.maxRetries = maxRetries
		s.retryBackoff = backoff
	}
}

// WithLogger sets the store logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewDynamoDBClient initializes a DynamoDB client. Empty keys fall back to the
// default AWS credential chain; a non-empty endpoint targets e.g. DynamoDB Local.
func NewDynamoDBClient(ctx context.Context, awsAccessKey, awsSecretKey, awsRegion, endpoint string) (*sdk.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(awsRegion)}
	if awsAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(awsAccessKey, awsSecretKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	return sdk.NewFromConfig(cfg, func(o *sdk.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// New creates a store on tableName. Paths are mapped to entity types through endpoints.
func New(client Client, tableName string, endpoints *registry.Endpoints, opts ...Option) *Store {
	if endpoints == nil {
		endpoints = registry.NewEndpoints()
	}
	s := &Store{
		client:       client,
		tableName:    tableName,
		endpoints:    endpoints,
		gsi:          DefaultGSI,
		pageSize:     100,
		maxRetries:   3,
		retryBackoff: DefaultRetryBackoff,
		logger:       logging.NoOpLogger{},
		newID:        uuid.NewString,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.gsi.Validate(); err != nil {
		s.logger.Warn("invalid gsi config, using default", logging.ErrAttr(err))
		s.gsi = DefaultGSI
	}
	return s
}

// Create puts a new item. Records without an id get a UUID. An existing item
// with the same key is reported as a 409.
func (s *Store) Create(ctx context.Context, path string, body storagemodels.Record) (storagemodels.Record, error) {
	ep, err := s.collection(transport.OpCreate, path)
	if err != nil {
		return nil, err
	}

	rec := body.Clone()
	if rec == nil {
		rec = storagemodels.Record{}
	}
	if _, ok := rec[storagemodels.IDField]; !ok {
		rec[storagemodels.IDField] = s.newID()
	}
	id, err := rec.ID()
	if err != nil {
		return nil, errors.NewTransportError(string(transport.OpCreate), path, http.StatusBadRequest, err.Error())
	}

	item, err := s.buildItem(ep, id, rec)
	if err != nil {
		return nil, errors.WrapTransport(string(transport.OpCreate), path, err)
	}

	cond := "attribute_not_exists(#pk)"
	_, err = s.client.PutItem(ctx, &sdk.PutItemInput{
		TableName:                &s.tableName,
		Item:                     item,
		ConditionExpression:      &cond,
		ExpressionAttributeNames: map[string]string{"#pk": AttrPK},
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if stderrors.As(err, &cfe) {
			return nil, errors.NewTransportError(string(transport.OpCreate), path, http.StatusConflict,
				fmt.Sprintf("%s %s already exists", ep.Key, id))
		}
		return nil, s.sdkError(transport.OpCreate, path, "PutItem", err)
	}
	return rec, nil
}

// List returns every item of the entity type, oldest first.
func (s *Store) List(ctx context.Context, path string) ([]storagemodels.Record, error) {
	ep, err := s.collection(transport.OpList, path)
	if err != nil {
		return nil, err
	}

	items, err := s.queryAll(ctx, &sdk.QueryInput{
		TableName:              &s.tableName,
		IndexName:              aws.String(s.gsi.IndexName),
		KeyConditionExpression: aws.String("#gpk = :type"),
		ExpressionAttributeNames: map[string]string{
			"#gpk": s.gsi.PartitionKeyName,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":type": &types.AttributeValueMemberS{Value: ep.Key},
		},
		ScanIndexForward: aws.Bool(true),
	})
	if err != nil {
		return nil, s.sdkError(transport.OpList, path, "Query", err)
	}

	out := make([]storagemodels.Record, 0, len(items))
	for _, item := range items {
		rec, err := s.toRecord(ep, item)
		if err != nil {
			return nil, errors.WrapTransport(string(transport.OpList), path, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Update sets every attribute of body on the existing item and returns the
// item as stored. A missing item is reported as a 404.
func (s *Store) Update(ctx context.Context, path string, body storagemodels.Record) (storagemodels.Record, error) {
	ep, id, err := s.item(transport.OpUpdate, path)
	if err != nil {
		return nil, err
	}
	key, err := s.keyFor(ep, id)
	if err != nil {
		return nil, errors.WrapTransport(string(transport.OpUpdate), path, err)
	}

	updates := make(map[string]any, len(body))
	for k, v := range body {
		if k == storagemodels.IDField || s.reserved(ep, k) {
			continue
		}
		updates[k] = v
	}
	if len(updates) == 0 {
		return s.get(ctx, ep, path, id, key)
	}

	updateExpr, names, values, err := buildUpdateExpression(updates)
	if err != nil {
		return nil, errors.NewTransportError(string(transport.OpUpdate), path, http.StatusBadRequest, err.Error())
	}
	names["#pk"] = AttrPK
	cond := "attribute_exists(#pk)"

	out, err := s.client.UpdateItem(ctx, &sdk.UpdateItemInput{
		TableName:                 &s.tableName,
		Key:                       key,
		UpdateExpression:          &updateExpr,
		ConditionExpression:       &cond,
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if stderrors.As(err, &cfe) {
			return nil, errors.WrapTransport(string(transport.OpUpdate), path, errors.NewNotFoundError(ep.Key, id.String()))
		}
		return nil, s.sdkError(transport.OpUpdate, path, "UpdateItem", err)
	}

	rec, err := s.toRecord(ep, out.Attributes)
	if err != nil {
		return nil, errors.WrapTransport(string(transport.OpUpdate), path, err)
	}
	return rec, nil
}

// Delete removes the item. A missing item is reported as a 404.
func (s *Store) Delete(ctx context.Context, path string) error {
	ep, id, err := s.item(transport.OpDelete, path)
	if err != nil {
		return err
	}
	key, err := s.keyFor(ep, id)
	if err != nil {
		return errors.WrapTransport(string(transport.OpDelete), path, err)
	}

	out, err := s.client.DeleteItem(ctx, &sdk.DeleteItemInput{
		TableName:    &s.tableName,
		Key:          key,
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return s.sdkError(transport.OpDelete, path, "DeleteItem", err)
	}
	if len(out.Attributes) == 0 {
		return errors.WrapTransport(string(transport.OpDelete), path, errors.NewNotFoundError(ep.Key, id.String()))
	}
	return nil
}

func (s *Store) get(ctx context.Context, ep registry.Endpoint, path string, id storagemodels.ID, key map[string]types.AttributeValue) (storagemodels.Record, error) {
	out, err := s.client.GetItem(ctx, &sdk.GetItemInput{
		TableName:      &s.tableName,
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, s.sdkError(transport.OpUpdate, path, "GetItem", err)
	}
	if len(out.Item) == 0 {
		return nil, errors.WrapTransport(string(transport.OpUpdate), path, errors.NewNotFoundError(ep.Key, id.String()))
	}
	rec, err := s.toRecord(ep, out.Item)
	if err != nil {
		return nil, errors.WrapTransport(string(transport.OpUpdate), path, err)
	}
	return rec, nil
}

func (s *Store) collection(op transport.Op, path string) (registry.Endpoint, error) {
	key, _, isItem, err := s.endpoints.ParsePath(path)
	if err != nil {
		return registry.Endpoint{}, errors.NewTransportError(string(op), path, http.StatusBadRequest, err.Error())
	}
	if isItem {
		return registry.Endpoint{}, errors.NewTransportError(string(op), path, http.StatusBadRequest, "expected a collection path")
	}
	return s.endpoints.Resolve(key), nil
}

func (s *Store) item(op transport.Op, path string) (registry.Endpoint, storagemodels.ID, error) {
	key, id, isItem, err := s.endpoints.ParsePath(path)
	if err != nil {
		return registry.Endpoint{}, "", errors.NewTransportError(string(op), path, http.StatusBadRequest, err.Error())
	}
	if !isItem {
		return registry.Endpoint{}, "", errors.NewTransportError(string(op), path, http.StatusBadRequest, "expected an item path")
	}
	return s.endpoints.Resolve(key), id, nil
}

// buildItem marshals rec and adds the table key, the entity type, the GSI
// keys and any extra index map attributes.
func (s *Store) buildItem(ep registry.Endpoint, id storagemodels.ID, rec storagemodels.Record) (map[string]types.AttributeValue, error) {
	av, err := attributevalue.MarshalMap(map[string]any(rec))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}

	expanded, err := expandMacros(ep.IndexMap, rec)
	if err != nil {
		return nil, err
	}
	for k, v := range expanded {
		av[k] = &types.AttributeValueMemberS{Value: v}
	}

	key, err := s.keyFor(ep, id)
	if err != nil {
		return nil, err
	}
	for k, v := range key {
		av[k] = v
	}

	av[AttrEntityType] = &types.AttributeValueMemberS{Value: ep.Key}
	av[s.gsi.PartitionKeyName] = &types.AttributeValueMemberS{Value: ep.Key}
	// creation time first so the index returns items oldest first
	created := strfmt.DateTime(s.now().UTC()).String()
	av[s.gsi.SortKeyName] = &types.AttributeValueMemberS{Value: created + "#" + id.String()}
	return av, nil
}

// keyFor expands the PK and SK templates from the id alone, so update and
// delete can address an item without reading it first.
func (s *Store) keyFor(ep registry.Endpoint, id storagemodels.ID) (map[string]types.AttributeValue, error) {
	expanded, err := expandMacros(map[string]string{
		AttrPK: ep.IndexMap[AttrPK],
		AttrSK: ep.IndexMap[AttrSK],
	}, storagemodels.Record{storagemodels.IDField: id.Value()})
	if err != nil {
		return nil, err
	}
	return buildKeyFromExpanded(expanded)
}

func (s *Store) reserved(ep registry.Endpoint, attr string) bool {
	switch attr {
	case AttrPK, AttrSK, AttrEntityType, s.gsi.PartitionKeyName, s.gsi.SortKeyName:
		return true
	}
	_, ok := ep.IndexMap[attr]
	return ok
}

// toRecord unmarshals an item and strips the attributes the store added.
func (s *Store) toRecord(ep registry.Endpoint, item map[string]types.AttributeValue) (storagemodels.Record, error) {
	var raw map[string]any
	if err := attributevalue.UnmarshalMap(item, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	rec := make(storagemodels.Record, len(raw))
	for k, v := range raw {
		if s.reserved(ep, k) {
			continue
		}
		rec[k] = storagemodels.Normalize(v)
	}
	return rec, nil
}

// sdkError maps an SDK failure to a transport error, keeping the HTTP status
// of the DynamoDB response when there is one.
func (s *Store) sdkError(op transport.Op, path, call string, err error) error {
	s.logger.Warn("dynamodb call failed", "call", call, "table", s.tableName, logging.ErrAttr(err))
	var re *awshttp.ResponseError
	if stderrors.As(err, &re) {
		return &errors.TransportError{
			Op:      string(op),
			Path:    path,
			Status:  re.HTTPStatusCode(),
			Message: fmt.Sprintf("%s failed: %v", call, err),
			Err:     err,
		}
	}
	return errors.WrapTransport(string(op), path, fmt.Errorf("%s failed: %w", call, err))
}

var macroPattern = regexp.MustCompile(`{([^}]+)}`)

// expandMacros replaces each "{attr}" in the templates with the record's
// attribute value. Missing or non-scalar attributes expand to "".
func expandMacros(indexMap map[string]string, rec storagemodels.Record) (map[string]string, error) {
	av, err := attributevalue.MarshalMap(map[string]any(rec))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal keysInput: %w", err)
	}

	res := make(map[string]string, len(indexMap))
	for fieldName, template := range indexMap {
		res[fieldName] = macroPattern.ReplaceAllStringFunc(template, func(macro string) string {
			val, ok := av[strings.Trim(macro, "{}")]
			if !ok {
				return ""
			}
			switch tv := val.(type) {
			case *types.AttributeValueMemberS:
				return tv.Value
			case *types.AttributeValueMemberN:
				return tv.Value
			case *types.AttributeValueMemberBOOL:
				return fmt.Sprintf("%v", tv.Value)
			default:
				return ""
			}
		})
	}
	return res, nil
}

// buildKeyFromExpanded builds a DynamoDB key from the expanded index map.
// It requires non-empty values for "PK" and "SK".
func buildKeyFromExpanded(expanded map[string]string) (map[string]types.AttributeValue, error) {
	pk, okPK := expanded[AttrPK]
	sk, okSK := expanded[AttrSK]

	if !okPK || !okSK || pk == "" || sk == "" {
		return nil, fmt.Errorf("expanded index map missing valid PK or SK")
	}

	return map[string]types.AttributeValue{
		AttrPK: &types.AttributeValueMemberS{Value: pk},
		AttrSK: &types.AttributeValueMemberS{Value: sk},
	}, nil
}

// buildUpdateExpression transforms a map of field->value into:
//   - an "update expression" (e.g., "SET #f0 = :v0, #f1 = :v1")
//   - a corresponding map of expression attribute names
//   - a corresponding map of expression attribute values
//
// Fields are numbered in sorted order so the expression is deterministic.
func buildUpdateExpression(updates map[string]any) (string, map[string]string, map[string]types.AttributeValue, error) {
	if len(updates) == 0 {
		return "", nil, nil, stderrors.New("no updates provided")
	}

	fields := make([]string, 0, len(updates))
	for f := range updates {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	setClauses := make([]string, 0, len(fields))
	exprAttrNames := make(map[string]string, len(fields))
	exprAttrValues := make(map[string]types.AttributeValue, len(fields))

	for i, field := range fields {
		placeholderName := fmt.Sprintf("#f%d", i)
		placeholderValue := fmt.Sprintf(":v%d", i)

		av, err := attributevalue.Marshal(updates[field])
		if err != nil {
			return "", nil, nil, fmt.Errorf("unhandled update value type for field '%s': %w", field, err)
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = %s", placeholderName, placeholderValue))
		exprAttrNames[placeholderName] = field
		exprAttrValues[placeholderValue] = av
	}

	return "SET " + strings.Join(setClauses, ", "), exprAttrNames, exprAttrValues, nil
}

var _ transport.Transport = (*Store)(nil)
