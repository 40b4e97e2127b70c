package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Hawyaa/alora-backend/internal/domain"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// an upsert racing another first add for the same owner loses on the unique index and retries
const maxAddAttempts = 3

type cartDocument struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	OwnerKey  string             `bson:"owner_key"`
	Items     []cartItemDocument `bson:"items"`
	Version   int64              `bson:"version"`
	CreatedAt time.Time          `bson:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at"`
}

type cartItemDocument struct {
	ItemID      string               `bson:"item_id"`
	ProductRef  string               `bson:"product_ref"`
	DisplayName string               `bson:"display_name"`
	UnitPrice   primitive.Decimal128 `bson:"unit_price"`
	Quantity    int                  `bson:"quantity"`
	Variant     string               `bson:"variant"`
	AddedAt     time.Time            `bson:"added_at"`
}

type MongoCartRepository struct {
	collection *mongo.Collection
}

func NewMongoCartRepository(db *mongo.Database) *MongoCartRepository {
	return &MongoCartRepository{
		collection: db.Collection("carts"),
	}
}

func (m *MongoCartRepository) GetCart(ctx context.Context, ownerKey string) (*domain.Cart, error) {
	var doc cartDocument
	err := m.collection.FindOne(ctx, bson.M{"owner_key": ownerKey}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	return doc.toDomain()
}

func (m *MongoCartRepository) AddItem(ctx context.Context, ownerKey string, item domain.CartItem) (*domain.Cart, error) {
	now := time.Now().UTC()
	item.Variant = domain.NormalizeVariant(item.Variant)
	item.AddedAt = now

	itemDoc, err := toItemDocument(item)
	if err != nil {
		return nil, err
	}

	lineMatch := bson.M{"product_ref": item.ProductRef, "variant": item.Variant}
	after := options.FindOneAndUpdate().SetReturnDocument(options.After)

	for attempt := 0; attempt < maxAddAttempts; attempt++ {
		// existing line: increment in place
		var doc cartDocument
		err := m.collection.FindOneAndUpdate(ctx,
			bson.M{"owner_key": ownerKey, "items": bson.M{"$elemMatch": lineMatch}},
			bson.M{
				"$inc": bson.M{"items.$.quantity": item.Quantity, "version": 1},
				"$set": bson.M{"updated_at": now},
			},
			after,
		).Decode(&doc)
		if err == nil {
			return doc.toDomain()
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("failed to increment cart item: %w", err)
		}

		// no such line: append, creating the cart on first add
		err = m.collection.FindOneAndUpdate(ctx,
			bson.M{"owner_key": ownerKey, "items": bson.M{"$not": bson.M{"$elemMatch": lineMatch}}},
			bson.M{
				"$push":        bson.M{"items": itemDoc},
				"$inc":         bson.M{"version": 1},
				"$set":         bson.M{"updated_at": now},
				"$setOnInsert": bson.M{"created_at": now},
			},
			options.FindOneAndUpdate().SetReturnDocument(options.After).SetUpsert(true),
		).Decode(&doc)
		if err == nil {
			return doc.toDomain()
		}
		if !mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("failed to add cart item: %w", err)
		}
	}

	return nil, fmt.Errorf("failed to add cart item: too much contention on cart %s", ownerKey)
}

func (m *MongoCartRepository) UpdateItemQuantity(ctx context.Context, ownerKey, itemID string, quantity int) (*domain.Cart, error) {
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetArrayFilters(options.ArrayFilters{
			Filters: []interface{}{bson.M{"elem.item_id": itemID}},
		})

	var doc cartDocument
	err := m.collection.FindOneAndUpdate(ctx,
		bson.M{"owner_key": ownerKey, "items.item_id": itemID},
		bson.M{
			"$set": bson.M{"items.$[elem].quantity": quantity, "updated_at": time.Now().UTC()},
			"$inc": bson.M{"version": 1},
		},
		opts,
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update item quantity: %w", err)
	}
	return doc.toDomain()
}

func (m *MongoCartRepository) RemoveItem(ctx context.Context, ownerKey, itemID string) (*domain.Cart, error) {
	var doc cartDocument
	err := m.collection.FindOneAndUpdate(ctx,
		bson.M{"owner_key": ownerKey, "items.item_id": itemID},
		bson.M{
			"$pull": bson.M{"items": bson.M{"item_id": itemID}},
			"$set":  bson.M{"updated_at": time.Now().UTC()},
			"$inc":  bson.M{"version": 1},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to remove item: %w", err)
	}
	return doc.toDomain()
}

func (m *MongoCartRepository) ClearCart(ctx context.Context, ownerKey string) (*domain.Cart, error) {
	var doc cartDocument
	err := m.collection.FindOneAndUpdate(ctx,
		bson.M{"owner_key": ownerKey},
		bson.M{
			"$set": bson.M{"items": bson.A{}, "updated_at": time.Now().UTC()},
			"$inc": bson.M{"version": 1},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrCartNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to clear cart: %w", err)
	}
	return doc.toDomain()
}

func (m *MongoCartRepository) RemoveLines(ctx context.Context, ownerKey string, taken []domain.CartLineRef) (*domain.Cart, error) {
	remove := takenQuantities(taken)
	if len(remove) == 0 {
		return m.GetCart(ctx, ownerKey)
	}

	branches := make(bson.A, 0, len(remove))
	for itemID, qty := range remove {
		branches = append(branches, bson.M{
			"case": bson.M{"$eq": bson.A{"$$it.item_id", itemID}},
			"then": qty,
		})
	}
	decremented := bson.M{"$map": bson.M{
		"input": "$items",
		"as":    "it",
		"in": bson.M{"$mergeObjects": bson.A{"$$it", bson.M{
			"quantity": bson.M{"$subtract": bson.A{"$$it.quantity", bson.M{"$switch": bson.M{"branches": branches, "default": 0}}}},
		}}},
	}}

	// one pipeline update, so decrement and drop are a single atomic write
	update := mongo.Pipeline{
		bson.D{{Key: "$set", Value: bson.M{
			"items": bson.M{"$filter": bson.M{
				"input": decremented,
				"as":    "it",
				"cond":  bson.M{"$gt": bson.A{"$$it.quantity", 0}},
			}},
			"version":    bson.M{"$add": bson.A{"$version", 1}},
			"updated_at": time.Now().UTC(),
		}}},
	}

	var doc cartDocument
	err := m.collection.FindOneAndUpdate(ctx,
		bson.M{"owner_key": ownerKey},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrCartNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to remove checked out lines: %w", err)
	}
	return doc.toDomain()
}

func (m *MongoCartRepository) CreateIndexes(ctx context.Context) error {
	_, err := m.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "owner_key", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func toItemDocument(item domain.CartItem) (cartItemDocument, error) {
	price, err := primitive.ParseDecimal128(item.UnitPrice.String())
	if err != nil {
		return cartItemDocument{}, fmt.Errorf("encode unit price %s: %w", item.UnitPrice, err)
	}
	return cartItemDocument{
		ItemID:      item.ItemID,
		ProductRef:  item.ProductRef,
		DisplayName: item.DisplayName,
		UnitPrice:   price,
		Quantity:    item.Quantity,
		Variant:     item.Variant,
		AddedAt:     item.AddedAt,
	}, nil
}

func (d cartDocument) toDomain() (*domain.Cart, error) {
	cart := &domain.Cart{
		OwnerKey:  d.OwnerKey,
		Items:     make([]domain.CartItem, 0, len(d.Items)),
		Version:   d.Version,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	for _, it := range d.Items {
		price, err := decimal.NewFromString(it.UnitPrice.String())
		if err != nil {
			return nil, fmt.Errorf("decode unit price for item %s: %w", it.ItemID, err)
		}
		cart.Items = append(cart.Items, domain.CartItem{
			ItemID:      it.ItemID,
			ProductRef:  it.ProductRef,
			DisplayName: it.DisplayName,
			UnitPrice:   price,
			Quantity:    it.Quantity,
			Variant:     it.Variant,
			AddedAt:     it.AddedAt,
		})
	}
	cart.Recalculate()
	return cart, nil
}
