package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/kjstillabower/forecast-cache-service/internal/models"
)

// Collection names in the forecast cache database.
const (
	MongoLocationCollection = "location"
	MongoForecastCollection = "forecast"
	DefaultMongoDatabase    = "weather"
)

type mongoLocationDoc struct {
	Latitude   float64     `bson:"latitude"`
	Longitude  float64     `bson:"longitude"`
	Response   interface{} `bson:"response"`
	CreatedAt  time.Time   `bson:"created_at"`
	ModifiedAt time.Time   `bson:"modified_at"`
}

type mongoForecastDoc struct {
	LocationKey string      `bson:"location_key"`
	Type        string      `bson:"type"`
	Response    interface{} `bson:"response"`
	CreatedAt   time.Time   `bson:"created_at"`
	ModifiedAt  time.Time   `bson:"modified_at"`
}

// Read-side documents keep the response as raw BSON so it can be rendered back to JSON.
type mongoLocationRecord struct {
	Latitude   float64       `bson:"latitude"`
	Longitude  float64       `bson:"longitude"`
	Response   bson.RawValue `bson:"response"`
	CreatedAt  time.Time     `bson:"created_at"`
	ModifiedAt time.Time     `bson:"modified_at"`
}

type mongoForecastRecord struct {
	LocationKey string        `bson:"location_key"`
	Type        string        `bson:"type"`
	Response    bson.RawValue `bson:"response"`
	CreatedAt   time.Time     `bson:"created_at"`
	ModifiedAt  time.Time     `bson:"modified_at"`
}

// MongoStore keeps records as documents in the location and forecast collections.
type MongoStore struct {
	client    *mongo.Client
	locations *mongo.Collection
	forecasts *mongo.Collection
}

// NewMongoStore connects to uri, verifies the connection and ensures lookup indexes.
func NewMongoStore(ctx context.Context, uri, database string, timeout time.Duration) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New("mongo: connection URI is required")
	}
	if database == "" {
		database = DefaultMongoDatabase
	}
	opts := options.Client().ApplyURI(uri)
	if timeout > 0 {
		opts.SetTimeout(timeout)
		opts.SetServerSelectionTimeout(timeout)
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	dbh := client.Database(database)
	s := &MongoStore{
		client:    client,
		locations: dbh.Collection(MongoLocationCollection),
		forecasts: dbh.Collection(MongoForecastCollection),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// ensureIndexes creates non-unique lookup indexes; duplicates remain allowed.
func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.locations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "latitude", Value: 1}, {Key: "longitude", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("mongo create location index: %w", err)
	}
	_, err = s.forecasts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "location_key", Value: 1}, {Key: "type", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("mongo create forecast index: %w", err)
	}
	return nil
}

// firstInserted orders ties by _id so FindOne returns the earliest document.
var firstInserted = options.FindOne().SetSort(bson.D{{Key: "_id", Value: 1}})

func (s *MongoStore) FindLocation(ctx context.Context, lat, lon float64) (models.CachedLocation, bool, error) {
	filter := bson.D{{Key: "latitude", Value: lat}, {Key: "longitude", Value: lon}}
	var rec mongoLocationRecord
	if err := s.locations.FindOne(ctx, filter, firstInserted).Decode(&rec); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.CachedLocation{}, false, nil
		}
		return models.CachedLocation{}, false, fmt.Errorf("mongo find location: %w", err)
	}
	response, err := rawValueToJSON(rec.Response)
	if err != nil {
		return models.CachedLocation{}, false, err
	}
	return models.CachedLocation{
		Latitude:   rec.Latitude,
		Longitude:  rec.Longitude,
		Response:   response,
		CreatedAt:  rec.CreatedAt,
		ModifiedAt: rec.ModifiedAt,
	}, true, nil
}

func (s *MongoStore) FindForecast(ctx context.Context, locationKey string, forecastType models.ForecastType) (models.CachedForecast, bool, error) {
	filter := bson.D{{Key: "location_key", Value: locationKey}, {Key: "type", Value: string(forecastType)}}
	var rec mongoForecastRecord
	if err := s.forecasts.FindOne(ctx, filter, firstInserted).Decode(&rec); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.CachedForecast{}, false, nil
		}
		return models.CachedForecast{}, false, fmt.Errorf("mongo find forecast: %w", err)
	}
	response, err := rawValueToJSON(rec.Response)
	if err != nil {
		return models.CachedForecast{}, false, err
	}
	return models.CachedForecast{
		LocationKey: rec.LocationKey,
		Type:        models.ForecastType(rec.Type),
		Response:    response,
		CreatedAt:   rec.CreatedAt,
		ModifiedAt:  rec.ModifiedAt,
	}, true, nil
}

func (s *MongoStore) InsertLocation(ctx context.Context, loc models.CachedLocation) error {
	response, err := jsonToBSONValue(loc.Response)
	if err != nil {
		return err
	}
	_, err = s.locations.InsertOne(ctx, mongoLocationDoc{
		Latitude:   loc.Latitude,
		Longitude:  loc.Longitude,
		Response:   response,
		CreatedAt:  loc.CreatedAt,
		ModifiedAt: loc.ModifiedAt,
	})
	if err != nil {
		return fmt.Errorf("mongo insert location: %w", err)
	}
	return nil
}

func (s *MongoStore) InsertForecast(ctx context.Context, f models.CachedForecast) error {
	response, err := jsonToBSONValue(f.Response)
	if err != nil {
		return err
	}
	_, err = s.forecasts.InsertOne(ctx, mongoForecastDoc{
		LocationKey: f.LocationKey,
		Type:        string(f.Type),
		Response:    response,
		CreatedAt:   f.CreatedAt,
		ModifiedAt:  f.ModifiedAt,
	})
	if err != nil {
		return fmt.Errorf("mongo insert forecast: %w", err)
	}
	return nil
}

func (s *MongoStore) Name() string { return BackendMongo }

// Ping checks server reachability.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// jsonToBSONValue converts a JSON payload of any shape into a BSON value with
// object key order preserved. The payload is wrapped because extended JSON
// parsing requires a top-level document.
func jsonToBSONValue(raw json.RawMessage) (interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	wrapped := make([]byte, 0, len(raw)+6)
	wrapped = append(wrapped, `{"v":`...)
	wrapped = append(wrapped, raw...)
	wrapped = append(wrapped, '}')

	var doc bson.D
	if err := bson.UnmarshalExtJSON(wrapped, false, &doc); err != nil {
		return nil, fmt.Errorf("convert response to bson: %w", err)
	}
	if len(doc) != 1 {
		return nil, fmt.Errorf("convert response to bson: unexpected document shape")
	}
	return doc[0].Value, nil
}

// rawValueToJSON renders a stored BSON value back to plain JSON.
func rawValueToJSON(rv bson.RawValue) (json.RawMessage, error) {
	if rv.Type == 0 {
		return nil, nil
	}
	out, err := bson.MarshalExtJSON(bson.D{{Key: "v", Value: rv}}, false, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}
	var wrapper struct {
		V json.RawMessage `json:"v"`
	}
	if err := json.Unmarshal(out, &wrapper); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}
	return wrapper.V, nil
}
