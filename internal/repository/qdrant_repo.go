package repository

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"github.com/timmy/nagato/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// payload keys reserved by the store
const (
	qdrantNamespaceKey = "namespace"
	qdrantChunkIDKey   = "chunk_id"
)

// QdrantConnectionConfig holds configuration for a Qdrant collection.
type QdrantConnectionConfig struct {
	Host            string
	Port            int
	Collection      string
	APIKey          string // Qdrant Cloud API Key (enables TLS automatically)
	UseTLS          bool
	VectorDimension int
}

func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// QdrantRepository stores embedding entries in one Qdrant collection.
// Namespaces are a keyword payload field filtered on every query.
type QdrantRepository struct {
	conn            *grpc.ClientConn
	pointsClient    pb.PointsClient
	collectClient   pb.CollectionsClient
	collectionName  string
	vectorDimension int
}

// NewQdrantRepository dials Qdrant. Local instances use plaintext; an API key
// or UseTLS switches to TLS 1.3 as Qdrant Cloud requires.
func NewQdrantRepository(cfg *QdrantConnectionConfig) (*QdrantRepository, error) {
	if cfg.VectorDimension <= 0 {
		return nil, fmt.Errorf("qdrant collection %s: vector dimension must be positive", cfg.Collection)
	}

	var opts []grpc.DialOption
	if cfg.UseTLS || cfg.APIKey != "" {
		creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS13})
		opts = append(opts, grpc.WithTransportCredentials(creds))
		if cfg.APIKey != "" {
			opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	return &QdrantRepository{
		conn:            conn,
		pointsClient:    pb.NewPointsClient(conn),
		collectClient:   pb.NewCollectionsClient(conn),
		collectionName:  cfg.Collection,
		vectorDimension: cfg.VectorDimension,
	}, nil
}

// Close closes the gRPC connection
func (r *QdrantRepository) Close() error {
	return r.conn.Close()
}

// Dimensions returns the collection's vector size.
func (r *QdrantRepository) Dimensions() int {
	return r.vectorDimension
}

// EnsureCollection creates the collection with cosine distance if it is
// missing. An existing collection with a different vector size is a
// configuration error.
func (r *QdrantRepository) EnsureCollection(ctx context.Context) error {
	info, err := r.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{
		CollectionName: r.collectionName,
	})
	if err == nil {
		if size, ok := collectionVectorSize(info.GetResult()); ok && size != uint64(r.vectorDimension) {
			return &domain.ConfigurationError{
				Key:    r.collectionName,
				Kind:   domain.ErrDimensionMismatch,
				Detail: fmt.Sprintf("collection has vector size %d, expected %d", size, r.vectorDimension),
			}
		}
		return nil
	}

	_, err = r.collectClient.Create(ctx, &pb.CreateCollection{
		CollectionName: r.collectionName,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(r.vectorDimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	// namespace filters run on every query
	_, err = r.pointsClient.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
		CollectionName: r.collectionName,
		FieldName:      qdrantNamespaceKey,
		FieldType:      pb.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("failed to index namespace field: %w", err)
	}

	return nil
}

func collectionVectorSize(info *pb.CollectionInfo) (uint64, bool) {
	vectors := info.GetConfig().GetParams().GetVectorsConfig()
	if vectors == nil {
		return 0, false
	}
	if single := vectors.GetParams(); single != nil && single.GetSize() > 0 {
		return single.GetSize(), true
	}
	for _, params := range vectors.GetParamsMap().GetMap() {
		if params.GetSize() > 0 {
			return params.GetSize(), true
		}
	}
	return 0, false
}

// PointID derives a stable UUID for a chunk inside a namespace, so writing
// the same chunk id twice overwrites the point.
func PointID(namespace, chunkID string) string {
	if _, err := uuid.Parse(chunkID); err == nil && namespace == "" {
		return chunkID
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(namespace+"/"+chunkID)).String()
}

// Upsert writes entries under namespace. Any vector whose length differs
// from the collection size fails the whole call before anything is sent.
func (r *QdrantRepository) Upsert(ctx context.Context, namespace string, entries []domain.EmbeddingEntry) error {
	if len(entries) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, 0, len(entries))
	for _, e := range entries {
		if len(e.Vector) != r.vectorDimension {
			return fmt.Errorf("%w: entry %s has %d dimensions, collection %s expects %d",
				domain.ErrDimensionMismatch, e.ID, len(e.Vector), r.collectionName, r.vectorDimension)
		}

		payload := toPayload(e.Metadata)
		payload[qdrantNamespaceKey] = stringValue(namespace)
		payload[qdrantChunkIDKey] = stringValue(e.ID)

		points = append(points, &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(namespace, e.ID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: e.Vector}},
			},
			Payload: payload,
		})
	}

	wait := true
	_, err := r.pointsClient.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: r.collectionName,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

// Query returns the topK nearest points inside namespace.
func (r *QdrantRepository) Query(ctx context.Context, namespace string, vector []float32, topK int, includeMetadata bool) ([]domain.Match, error) {
	if len(vector) != r.vectorDimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection %s expects %d",
			domain.ErrDimensionMismatch, len(vector), r.collectionName, r.vectorDimension)
	}

	req := &pb.SearchPoints{
		CollectionName: r.collectionName,
		Vector:         vector,
		Limit:          uint64(topK),
		Filter:         namespaceFilter(namespace),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	}

	resp, err := r.pointsClient.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	matches := make([]domain.Match, len(resp.GetResult()))
	for i, scored := range resp.GetResult() {
		payload := scored.GetPayload()
		id := payload[qdrantChunkIDKey].GetStringValue()
		if id == "" {
			id = scored.GetId().GetUuid()
		}
		m := domain.Match{ID: id, Score: scored.GetScore()}
		if includeMetadata {
			m.Metadata = fromPayload(payload)
		}
		matches[i] = m
	}
	return matches, nil
}

func namespaceFilter(namespace string) *pb.Filter {
	if namespace == "" {
		return nil
	}
	return &pb.Filter{
		Must: []*pb.Condition{{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key:   qdrantNamespaceKey,
					Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: namespace}},
				},
			},
		}},
	}
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

// toPayload converts chunk metadata into Qdrant values. Unsupported types
// are stored by their fmt representation.
func toPayload(meta map[string]interface{}) map[string]*pb.Value {
	out := make(map[string]*pb.Value, len(meta)+2)
	for k, v := range meta {
		out[k] = toValue(v)
	}
	return out
}

func toValue(v interface{}) *pb.Value {
	switch t := v.(type) {
	case nil:
		return &pb.Value{Kind: &pb.Value_NullValue{}}
	case string:
		return stringValue(t)
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: t}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(t)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: t}}
	case float32:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: float64(t)}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: t}}
	case []string:
		values := make([]*pb.Value, len(t))
		for i, s := range t {
			values[i] = stringValue(s)
		}
		return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: values}}}
	default:
		return stringValue(fmt.Sprint(t))
	}
}

func fromPayload(payload map[string]*pb.Value) map[string]interface{} {
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		if k == qdrantNamespaceKey || k == qdrantChunkIDKey {
			continue
		}
		out[k] = fromValue(v)
	}
	return out
}

func fromValue(v *pb.Value) interface{} {
	switch k := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return k.StringValue
	case *pb.Value_BoolValue:
		return k.BoolValue
	case *pb.Value_IntegerValue:
		return k.IntegerValue
	case *pb.Value_DoubleValue:
		return k.DoubleValue
	case *pb.Value_ListValue:
		items := make([]interface{}, len(k.ListValue.GetValues()))
		for i, item := range k.ListValue.GetValues() {
			items[i] = fromValue(item)
		}
		return items
	}
	return nil
}
