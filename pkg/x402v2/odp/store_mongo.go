package odp

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongoSessionRecord is the BSON-friendly representation of a SessionRecord;
// big.Int fields are stored as decimal strings since MongoDB has no native
// arbitrary-precision integer type.
type mongoSessionRecord struct {
	ID                 string    `bson:"_id"`
	Approval           SessionApproval `bson:"approval"`
	SessionSignature   string    `bson:"sessionSignature"`
	SettlementContract string    `bson:"settlementContract"`
	NextNonce          string    `bson:"nextNonce"`
	Spent              string    `bson:"spent"`
	Receipts           []Receipt `bson:"receipts"`
	Settling           bool      `bson:"settling"`
	InsertedAt         time.Time `bson:"insertedAt,omitempty"`
}

// MongoStore is a MongoDB-backed SessionStore.
type MongoStore struct {
	client  *mongo.Client
	sessions *mongo.Collection
}

// NewMongoStore connects to connectionString and returns a SessionStore
// backed by the named database's "odp_sessions" collection.
func NewMongoStore(connectionString, database string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	sessions := client.Database(database).Collection("odp_sessions")
	if _, err := sessions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "approval.expiry", Value: 1}},
	}); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("create odp_sessions indexes: %w", err)
	}

	return &MongoStore{client: client, sessions: sessions}, nil
}

// Close disconnects the underlying client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Get implements SessionStore.
func (s *MongoStore) Get(ctx context.Context, sessionID string) (*SessionRecord, bool, error) {
	var doc mongoSessionRecord
	err := s.sessions.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("find odp session: %w", err)
	}
	record, err := fromMongoRecord(doc)
	if err != nil {
		return nil, false, err
	}
	return record, true, nil
}

// Put implements SessionStore.
func (s *MongoStore) Put(ctx context.Context, sessionID string, record *SessionRecord) error {
	doc := toMongoRecord(sessionID, record)
	update := bson.M{"$set": doc, "$setOnInsert": bson.M{"insertedAt": time.Now()}}
	_, err := s.sessions.UpdateOne(ctx, bson.M{"_id": sessionID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert odp session: %w", err)
	}
	return nil
}

// Delete implements SessionStore.
func (s *MongoStore) Delete(ctx context.Context, sessionID string) error {
	_, err := s.sessions.DeleteOne(ctx, bson.M{"_id": sessionID})
	if err != nil {
		return fmt.Errorf("delete odp session: %w", err)
	}
	return nil
}

// Sessions implements SessionStore.
func (s *MongoStore) Sessions(ctx context.Context) ([]string, error) {
	cur, err := s.sessions.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "insertedAt", Value: 1}}).SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("list odp sessions: %w", err)
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode odp session id: %w", err)
		}
		ids = append(ids, doc.ID)
	}
	return ids, cur.Err()
}

func toMongoRecord(sessionID string, r *SessionRecord) mongoSessionRecord {
	return mongoSessionRecord{
		ID:                 sessionID,
		Approval:           r.Approval,
		SessionSignature:   r.SessionSignature,
		SettlementContract: r.SettlementContract,
		NextNonce:          r.NextNonce.String(),
		Spent:              r.Spent.String(),
		Receipts:           r.Receipts,
		Settling:           r.Settling,
	}
}

func fromMongoRecord(doc mongoSessionRecord) (*SessionRecord, error) {
	nextNonce, ok := new(big.Int).SetString(doc.NextNonce, 10)
	if !ok {
		return nil, fmt.Errorf("invalid nextNonce stored for session %s", doc.ID)
	}
	spent, ok := new(big.Int).SetString(doc.Spent, 10)
	if !ok {
		return nil, fmt.Errorf("invalid spent stored for session %s", doc.ID)
	}
	return &SessionRecord{
		Approval:           doc.Approval,
		SessionSignature:   doc.SessionSignature,
		SettlementContract: doc.SettlementContract,
		NextNonce:          nextNonce,
		Spent:              spent,
		Receipts:           doc.Receipts,
		Settling:           doc.Settling,
	}, nil
}
