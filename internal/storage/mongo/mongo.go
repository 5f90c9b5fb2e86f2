// Package mongo is the MongoDB storage.Backend
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cuongbtq/vendor-gateway/internal/domain"
	"github.com/cuongbtq/vendor-gateway/internal/storage"
)

var _ storage.Backend = (*Storage)(nil)

// jobDocument is the stored shape of a job; the request id is the _id
type jobDocument struct {
	RequestID     string     `bson:"_id"`
	VendorType    string     `bson:"vendorType,omitempty"`
	VendorPayload bson.M     `bson:"vendorPayload,omitempty"`
	Status        string     `bson:"status"`
	Result        bson.M     `bson:"result,omitempty"`
	Error         string     `bson:"error"`
	RetryCount    int        `bson:"retryCount"`
	CreatedAt     time.Time  `bson:"createdAt"`
	UpdatedAt     time.Time  `bson:"updatedAt"`
	CompletedAt   *time.Time `bson:"completedAt,omitempty"`
}

func (d *jobDocument) toDomain() *domain.Job {
	job := &domain.Job{
		RequestID:  d.RequestID,
		VendorType: domain.VendorType(d.VendorType),
		Status:     domain.JobStatus(d.Status),
		Error:      d.Error,
		RetryCount: d.RetryCount,
		CreatedAt:  d.CreatedAt.UTC(),
		UpdatedAt:  d.UpdatedAt.UTC(),
	}
	if d.VendorPayload != nil {
		job.VendorPayload = toDocument(d.VendorPayload)
	}
	if d.Result != nil {
		job.Result = toDocument(d.Result)
	}
	if d.CompletedAt != nil {
		t := d.CompletedAt.UTC()
		job.CompletedAt = &t
	}
	return job
}

// Storage handles job persistence in a MongoDB collection
type Storage struct {
	col    *mongo.Collection
	logger *slog.Logger
}

// NewStorage creates a new Storage over the jobs collection
func NewStorage(col *mongo.Collection, logger *slog.Logger) *Storage {
	return &Storage{
		col:    col,
		logger: logger,
	}
}

// EnsureIndexes creates the indexes used by the sweep and listings
func (s *Storage) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "retryCount", Value: 1}, {Key: "updatedAt", Value: 1}}},
		{Keys: bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create job indexes: %w", err)
	}
	s.logger.Info("Job indexes ensured")
	return nil
}

// InsertJobs upserts a batch. Existing documents keep their status; only
// missing creation fields are filled in.
func (s *Storage) InsertJobs(ctx context.Context, jobs []*domain.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	models := make([]mongo.WriteModel, 0, len(jobs))
	for _, job := range jobs {
		fill := bson.D{
			{Key: "vendorType", Value: ifNull("$vendorType", string(job.VendorType))},
			{Key: "vendorPayload", Value: ifNull("$vendorPayload", bson.D{{Key: "$literal", Value: job.VendorPayload}})},
			{Key: "status", Value: ifNull("$status", string(job.Status))},
			{Key: "error", Value: ifNull("$error", job.Error)},
			{Key: "retryCount", Value: ifNull("$retryCount", job.RetryCount)},
			{Key: "createdAt", Value: bson.D{{Key: "$min", Value: bson.A{"$createdAt", job.CreatedAt}}}},
			{Key: "updatedAt", Value: ifNull("$updatedAt", job.UpdatedAt)},
		}

		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": job.RequestID}).
			SetUpdate(mongo.Pipeline{{{Key: "$set", Value: fill}}}).
			SetUpsert(true))
	}

	_, err := s.col.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("failed to insert jobs: %w", err)
	}
	return nil
}

func ifNull(field string, fallback any) bson.D {
	return bson.D{{Key: "$ifNull", Value: bson.A{field, fallback}}}
}

// ApplyUpdate merges an update into a document that is not complete. A
// missing document is upserted; a complete one rejects the upsert with a
// duplicate key, which is treated as a skipped write.
func (s *Storage) ApplyUpdate(ctx context.Context, update *domain.JobUpdate) error {
	set := bson.M{"updatedAt": update.UpdatedAt}
	onInsert := bson.M{"createdAt": update.UpdatedAt}

	if update.Status != "" {
		set["status"] = string(update.Status)
	} else {
		onInsert["status"] = string(domain.JobStatusPending)
	}
	if update.Result != nil {
		set["result"] = update.Result
	}
	if update.Error != nil {
		set["error"] = *update.Error
	} else {
		onInsert["error"] = ""
	}
	if update.RetryCount != nil {
		set["retryCount"] = *update.RetryCount
	} else {
		onInsert["retryCount"] = 0
	}
	if update.CompletedAt != nil {
		set["completedAt"] = *update.CompletedAt
	}

	doc := bson.M{"$set": set, "$setOnInsert": onInsert}
	if update.CompletedAt == nil && update.ClearCompletedAt {
		doc["$unset"] = bson.M{"completedAt": ""}
	}

	filter := bson.M{
		"_id":    update.RequestID,
		"status": bson.M{"$ne": string(domain.JobStatusComplete)},
	}

	_, err := s.col.UpdateOne(ctx, filter, doc, options.Update().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			s.logger.Debug("Update skipped for completed job",
				slog.String("request_id", update.RequestID),
				slog.String("status", string(update.Status)),
			)
			return nil
		}
		return fmt.Errorf("failed to update job %s: %w", update.RequestID, err)
	}
	return nil
}

// GetJob retrieves a job by request id
func (s *Storage) GetJob(ctx context.Context, requestID string) (*domain.Job, error) {
	var doc jobDocument
	err := s.col.FindOne(ctx, bson.M{"_id": requestID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return doc.toDomain(), nil
}

// ListRetryable returns failed jobs below maxRetries, oldest update first
func (s *Storage) ListRetryable(ctx context.Context, maxRetries, limit int) ([]*domain.Job, error) {
	filter := bson.M{
		"status":     string(domain.JobStatusFailed),
		"retryCount": bson.M{"$lt": maxRetries},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "updatedAt", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))

	return s.find(ctx, filter, opts)
}

// ListJobs returns a newest-first page with one extra document to signal more
func (s *Storage) ListJobs(ctx context.Context, filter storage.ListFilter) ([]*domain.Job, error) {
	query := bson.M{}
	if filter.Status != "" {
		query["status"] = string(filter.Status)
	}
	if filter.VendorType != "" {
		query["vendorType"] = string(filter.VendorType)
	}
	if filter.Cursor != nil {
		query["$or"] = bson.A{
			bson.M{"createdAt": bson.M{"$lt": filter.Cursor.CreatedAt}},
			bson.M{"createdAt": filter.Cursor.CreatedAt, "_id": bson.M{"$lt": filter.Cursor.RequestID}},
		}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(filter.PageSize + 1))

	return s.find(ctx, query, opts)
}

// Ping checks the server connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.col.Database().Client().Ping(ctx, nil)
}

func (s *Storage) find(ctx context.Context, filter any, opts *options.FindOptions) ([]*domain.Job, error) {
	cursor, err := s.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []jobDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode jobs: %w", err)
	}

	jobs := make([]*domain.Job, 0, len(docs))
	for i := range docs {
		jobs = append(jobs, docs[i].toDomain())
	}
	return jobs, nil
}

// toDocument converts decoded BSON containers to plain maps and slices
func toDocument(m bson.M) domain.Document {
	doc := make(domain.Document, len(m))
	for k, v := range m {
		doc[k] = normalize(v)
	}
	return doc
}

func normalize(v any) any {
	switch val := v.(type) {
	case bson.M:
		return toDocument(val)
	case bson.D:
		return toDocument(val.Map())
	case bson.A:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case primitive.DateTime:
		return val.Time().UTC()
	default:
		return val
	}
}
