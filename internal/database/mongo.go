// Package database connects to the coupon stores and prepares their schema.
package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB wraps the client and the selected database.
type MongoDB struct {
	Client   *mongo.Client
	Database *mongo.Database
}

// ConnectMongo connects, pings and ensures the coupon indexes exist.
func ConnectMongo(ctx context.Context, uri, dbName string) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	m := &MongoDB{Client: client, Database: client.Database(dbName)}
	if err := m.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return m, nil
}

// EnsureIndexes creates the unique (user_id, coupon_id) claim index that
// makes duplicate issuance impossible.
func (m *MongoDB) EnsureIndexes(ctx context.Context) error {
	claims := m.Database.Collection("claims")
	userCoupon := mongo.IndexModel{
		Keys: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "coupon_id", Value: 1},
		},
		Options: options.Index().SetUnique(true).SetName("user_coupon_unique"),
	}
	if _, err := claims.Indexes().CreateOne(ctx, userCoupon); err != nil {
		return fmt.Errorf("create user_coupon index: %w", err)
	}

	byCoupon := mongo.IndexModel{
		Keys:    bson.D{{Key: "coupon_id", Value: 1}},
		Options: options.Index().SetName("coupon_id_index"),
	}
	if _, err := claims.Indexes().CreateOne(ctx, byCoupon); err != nil {
		return fmt.Errorf("create coupon_id index: %w", err)
	}
	return nil
}

func (m *MongoDB) Disconnect(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}
