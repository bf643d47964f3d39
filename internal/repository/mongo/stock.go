package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/shestoi/stockhold/internal/repository"
)

const stockCollection = "product_stock"

type stockDocument struct {
	ProductID         string    `bson:"product_id"`
	AvailableQuantity int64     `bson:"available_quantity"`
	UpdatedAt         time.Time `bson:"updated_at"`
}

// StockRepository durable остатки в MongoDB (альтернатива Postgres)
type StockRepository struct {
	col *mongo.Collection
}

// NewStockRepository создаёт репозиторий и уникальный индекс на product_id
func NewStockRepository(ctx context.Context, client *mongo.Client, dbName string) (*StockRepository, error) {
	col := client.Database(dbName).Collection(stockCollection)

	_, err := col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "product_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("create product_id index: %w", err)
	}
	return &StockRepository{col: col}, nil
}

func (r *StockRepository) GetStock(ctx context.Context, productID string) (int64, error) {
	var doc stockDocument
	err := r.col.FindOne(ctx, bson.M{"product_id": productID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, repository.ErrProductNotFound
		}
		return 0, fmt.Errorf("get stock: %w", err)
	}
	return doc.AvailableQuantity, nil
}

// DecrementStock атомарный FindOneAndUpdate с фильтром available_quantity >= qty
func (r *StockRepository) DecrementStock(ctx context.Context, productID string, qty int64) (int64, error) {
	filter := bson.M{
		"product_id":         productID,
		"available_quantity": bson.M{"$gte": qty},
	}
	update := bson.M{
		"$inc": bson.M{"available_quantity": -qty},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	}

	var doc stockDocument
	err := r.col.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if err == nil {
		return doc.AvailableQuantity, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return 0, fmt.Errorf("decrement stock: %w", err)
	}

	if _, getErr := r.GetStock(ctx, productID); getErr != nil {
		return 0, getErr
	}
	return 0, repository.ErrInsufficientStock
}

func (r *StockRepository) IncrementStock(ctx context.Context, productID string, qty int64) (int64, error) {
	update := bson.M{
		"$inc": bson.M{"available_quantity": qty},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	}

	var doc stockDocument
	err := r.col.FindOneAndUpdate(ctx, bson.M{"product_id": productID}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, repository.ErrProductNotFound
		}
		return 0, fmt.Errorf("increment stock: %w", err)
	}
	return doc.AvailableQuantity, nil
}

// UpsertStock задаёт остаток продукта
func (r *StockRepository) UpsertStock(ctx context.Context, productID string, qty int64) error {
	_, err := r.col.UpdateOne(ctx,
		bson.M{"product_id": productID},
		bson.M{"$set": bson.M{"available_quantity": qty, "updated_at": time.Now().UTC()}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert stock: %w", err)
	}
	return nil
}
