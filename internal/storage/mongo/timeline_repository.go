package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vladislavdragonenkov/skyshop/internal/domain"
)

// TimelineCollection: коллекция с журналом событий заказов.
const TimelineCollection = "order_timeline"

// Open подключается к MongoDB и проверяет соединение.
func Open(ctx context.Context, uri string) (*mongo.Client, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is empty")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "connect mongo")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, errors.Wrap(err, "ping mongo")
	}
	return client, nil
}

type timelineDoc struct {
	ID       primitive.ObjectID `bson:"_id"`
	OrderID  string             `bson:"order_id"`
	Type     string             `bson:"type"`
	Reason   string             `bson:"reason,omitempty"`
	Occurred time.Time          `bson:"occurred"`
}

// TimelineRepository хранит события заказов в MongoDB.
type TimelineRepository struct {
	coll *mongo.Collection
}

// NewTimelineRepository создаёт репозиторий поверх базы db.
func NewTimelineRepository(db *mongo.Database) *TimelineRepository {
	return &TimelineRepository{coll: db.Collection(TimelineCollection)}
}

// EnsureIndexes создаёт индекс для выборки событий заказа по времени.
func (r *TimelineRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "order_id", Value: 1}, {Key: "occurred", Value: 1}},
		Options: options.Index().SetName("order_id_occurred"),
	})
	return errors.Wrap(err, "create timeline index")
}

// Append сохраняет событие. Пустое время заменяется текущим.
func (r *TimelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}
	doc := timelineDoc{
		ID:       primitive.NewObjectID(),
		OrderID:  event.OrderID,
		Type:     event.Type,
		Reason:   event.Reason,
		Occurred: event.Occurred.UTC(),
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return errors.Wrap(err, "insert timeline event")
	}
	return nil
}

// List возвращает события заказа по возрастанию времени; при равном времени: в порядке вставки.
func (r *TimelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	opts := options.Find().SetSort(bson.D{{Key: "occurred", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.coll.Find(ctx, bson.M{"order_id": orderID}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "find timeline events")
	}
	defer cursor.Close(ctx)

	var docs []timelineDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decode timeline events")
	}

	events := make([]domain.TimelineEvent, 0, len(docs))
	for _, doc := range docs {
		events = append(events, domain.TimelineEvent{
			OrderID:  doc.OrderID,
			Type:     doc.Type,
			Reason:   doc.Reason,
			Occurred: doc.Occurred.UTC(),
		})
	}
	return events, nil
}

var _ domain.TimelineRepository = (*TimelineRepository)(nil)
