package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cankoe/rcon-event-scheduler/internal/models"
)

// MongoStore keeps numeric ids through a counters collection so both backends
// expose the same identifiers. Timestamps are stored in canonical text form.
type MongoStore struct {
	client        *mongo.Client
	events        *mongo.Collection
	tasks         *mongo.Collection
	notifications *mongo.Collection
	winners       *mongo.Collection
	counters      *mongo.Collection
}

type eventDoc struct {
	ID                 int64   `bson:"_id"`
	UniqueName         string  `bson:"unique_event_name"`
	Name               string  `bson:"name"`
	ConfigRef          string  `bson:"event_json"`
	Description        string  `bson:"description"`
	StartTime          string  `bson:"start_time"`
	EndTime            string  `bson:"end_time"`
	InProgress         bool    `bson:"event_in_progress"`
	Started            bool    `bson:"event_started"`
	Over               bool    `bson:"event_over"`
	LastScoreboardTime *string `bson:"last_scoreboard_time,omitempty"`
	ScoreboardInterval int     `bson:"scoreboard_interval"`
}

func (d eventDoc) model() (models.Event, error) {
	row := eventRow{
		ID: d.ID, UniqueName: d.UniqueName, Name: d.Name, ConfigRef: d.ConfigRef,
		Description: d.Description, StartTime: d.StartTime, EndTime: d.EndTime,
		InProgress: d.InProgress, Started: d.Started, Over: d.Over,
		ScoreboardInterval: d.ScoreboardInterval,
	}
	if d.LastScoreboardTime != nil {
		row.LastScoreboardTime.String, row.LastScoreboardTime.Valid = *d.LastScoreboardTime, true
	}
	return row.model()
}

type taskDoc struct {
	ID                int64   `bson:"_id"`
	EventID           int64   `bson:"event_id"`
	Name              string  `bson:"task_name"`
	ScheduledTime     string  `bson:"scheduled_time"`
	Priority          int     `bson:"priority"`
	Completed         bool    `bson:"completed"`
	ExecutionLengthMS int64   `bson:"execution_length_ms"`
	CompletedTime     *string `bson:"completed_time,omitempty"`
}

func (d taskDoc) model() (models.Task, error) {
	row := taskRow{
		ID: d.ID, EventID: d.EventID, Name: d.Name, ScheduledTime: d.ScheduledTime,
		Priority: d.Priority, Completed: d.Completed, ExecutionLengthMS: d.ExecutionLengthMS,
	}
	if d.CompletedTime != nil {
		row.CompletedTime.String, row.CompletedTime.Valid = *d.CompletedTime, true
	}
	return row.model()
}

type notificationDoc struct {
	ID      int64  `bson:"_id"`
	EventID int64  `bson:"event_id"`
	Kind    string `bson:"notification_type"`
	SentAt  string `bson:"sent_at"`
}

type winnerDoc struct {
	ID         int64  `bson:"_id"`
	EventID    int64  `bson:"event_id"`
	PlayerName string `bson:"player_name"`
	FinalScore int    `bson:"final_score"`
	WasOnline  bool   `bson:"was_online"`
	RewardedAt string `bson:"rewarded_at"`
}

// NewMongo wires the collections of dbName and ensures their indexes.
func NewMongo(ctx context.Context, client *mongo.Client, dbName string) (*MongoStore, error) {
	db := client.Database(dbName)
	s := &MongoStore{
		client:        client,
		events:        db.Collection("events"),
		tasks:         db.Collection("event_tasks"),
		notifications: db.Collection("event_notifications"),
		winners:       db.Collection("event_winners"),
		counters:      db.Collection("counters"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	if _, err := s.events.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "unique_event_name", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return classifyMongo("create index on events.unique_event_name", err)
	}
	if _, err := s.tasks.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "completed", Value: 1}, {Key: "scheduled_time", Value: 1}, {Key: "priority", Value: -1}}},
		{Keys: bson.D{{Key: "event_id", Value: 1}}},
	}); err != nil {
		return classifyMongo("create indexes on event_tasks", err)
	}
	for _, col := range []*mongo.Collection{s.notifications, s.winners} {
		if _, err := col.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys: bson.D{{Key: "event_id", Value: 1}},
		}); err != nil {
			return classifyMongo("create index on "+col.Name()+".event_id", err)
		}
	}
	log.Info().Msg("Indexes ensured successfully")
	return nil
}

// nextIDs reserves n consecutive ids for the named sequence and returns the first.
func (s *MongoStore) nextIDs(ctx context.Context, name string, n int) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": int64(n)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, classifyMongo("allocate "+name+" id", err)
	}
	return counter.Seq - int64(n) + 1, nil
}

func (s *MongoStore) CreateEvent(ctx context.Context, ev *models.Event) error {
	if err := validateEvent(ev); err != nil {
		return err
	}
	id, err := s.nextIDs(ctx, "events", 1)
	if err != nil {
		return err
	}
	doc := eventDoc{
		ID: id, UniqueName: ev.UniqueName, Name: ev.Name, ConfigRef: ev.ConfigRef,
		Description: ev.Description,
		StartTime:   models.FormatTimestamp(ev.StartTime),
		EndTime:     models.FormatTimestamp(ev.EndTime),
		InProgress:  ev.InProgress, Started: ev.Started, Over: ev.Over,
		ScoreboardInterval: ev.ScoreboardInterval,
	}
	if ev.LastScoreboardTime != nil {
		ts := models.FormatTimestamp(*ev.LastScoreboardTime)
		doc.LastScoreboardTime = &ts
	}
	if _, err := s.events.InsertOne(ctx, doc); err != nil {
		return classifyMongo("create event", err)
	}
	ev.ID = id
	ev.StartTime = models.Truncate(ev.StartTime)
	ev.EndTime = models.Truncate(ev.EndTime)
	return nil
}

func (s *MongoStore) findEvent(ctx context.Context, filter bson.M) (*models.Event, error) {
	var doc eventDoc
	if err := s.events.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, classifyMongo("get event", err)
	}
	ev, err := doc.model()
	if err != nil {
		return nil, fmt.Errorf("event %d: %w", doc.ID, err)
	}
	return &ev, nil
}

func (s *MongoStore) GetEvent(ctx context.Context, id int64) (*models.Event, error) {
	return s.findEvent(ctx, bson.M{"_id": id})
}

func (s *MongoStore) GetEventByUniqueName(ctx context.Context, uniqueName string) (*models.Event, error) {
	return s.findEvent(ctx, bson.M{"unique_event_name": uniqueName})
}

func (s *MongoStore) ListEvents(ctx context.Context, page Page) ([]models.Event, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "start_time", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(page.Offset))
	if page.Limit > 0 {
		opts.SetLimit(int64(page.Limit))
	}
	var docs []eventDoc
	if err := s.findAll(ctx, s.events, bson.M{}, opts, &docs); err != nil {
		return nil, classifyMongo("list events", err)
	}
	out := make([]models.Event, 0, len(docs))
	for _, d := range docs {
		ev, err := d.model()
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", d.ID, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// DeleteEvent removes the event's children before the event itself, so a
// partial failure leaves the event in place and the purge can be repeated.
func (s *MongoStore) DeleteEvent(ctx context.Context, id int64) error {
	n, err := s.events.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return classifyMongo("delete event", err)
	}
	if n == 0 {
		return fmt.Errorf("delete event: %w", ErrNotFound)
	}
	for _, col := range []*mongo.Collection{s.tasks, s.notifications, s.winners} {
		if _, err := col.DeleteMany(ctx, bson.M{"event_id": id}); err != nil {
			return classifyMongo("delete "+col.Name()+" of event", err)
		}
	}
	res, err := s.events.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return classifyMongo("delete event", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("delete event: %w", ErrNotFound)
	}
	return nil
}

func (s *MongoStore) StartEvent(ctx context.Context, id int64) error {
	res, err := s.events.UpdateOne(ctx,
		bson.M{"_id": id, "event_over": false},
		bson.M{"$set": bson.M{"event_started": true, "event_in_progress": true}})
	if err != nil {
		return classifyMongo("start event", err)
	}
	if res.MatchedCount == 0 {
		if _, err := s.GetEvent(ctx, id); err != nil {
			return err
		}
		log.Warn().Int64("event_id", id).Msg("Event already over, start flags left unchanged")
	}
	return nil
}

func (s *MongoStore) EndEvent(ctx context.Context, id int64) error {
	return s.updateOne(ctx, "end event", s.events, bson.M{"_id": id},
		bson.M{"$set": bson.M{"event_in_progress": false, "event_over": true}})
}

func (s *MongoStore) UpdateScoreboardTime(ctx context.Context, id int64, at time.Time) error {
	return s.updateOne(ctx, "update scoreboard time", s.events, bson.M{"_id": id},
		bson.M{"$set": bson.M{"last_scoreboard_time": models.FormatTimestamp(at)}})
}

func (s *MongoStore) updateOne(ctx context.Context, op string, col *mongo.Collection, filter, update bson.M) error {
	res, err := col.UpdateOne(ctx, filter, update)
	if err != nil {
		return classifyMongo(op, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

func (s *MongoStore) InsertTasks(ctx context.Context, tasks []models.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	eventIDs := map[int64]struct{}{}
	for _, t := range tasks {
		eventIDs[t.EventID] = struct{}{}
	}
	for id := range eventIDs {
		if _, err := s.GetEvent(ctx, id); err != nil {
			return fmt.Errorf("insert tasks: %w", err)
		}
	}

	first, err := s.nextIDs(ctx, "event_tasks", len(tasks))
	if err != nil {
		return err
	}
	docs := make([]any, len(tasks))
	for i, t := range tasks {
		docs[i] = taskDoc{
			ID:            first + int64(i),
			EventID:       t.EventID,
			Name:          t.Name,
			ScheduledTime: models.FormatTimestamp(t.ScheduledTime),
			Priority:      t.Priority,
		}
	}
	if _, err := s.tasks.InsertMany(ctx, docs); err != nil {
		return classifyMongo("insert tasks", err)
	}
	for i := range tasks {
		tasks[i].ID = first + int64(i)
		tasks[i].ScheduledTime = models.Truncate(tasks[i].ScheduledTime)
	}
	return nil
}

func (s *MongoStore) DueTasks(ctx context.Context, until time.Time) ([]models.Task, error) {
	filter := bson.M{"completed": false, "scheduled_time": bson.M{"$lte": models.FormatTimestamp(until)}}
	opts := options.Find().SetSort(bson.D{
		{Key: "priority", Value: -1}, {Key: "scheduled_time", Value: 1}, {Key: "_id", Value: 1},
	})
	return s.findTasks(ctx, "due tasks", filter, opts)
}

func (s *MongoStore) NextPendingTaskTime(ctx context.Context) (time.Time, bool, error) {
	var doc taskDoc
	err := s.tasks.FindOne(ctx, bson.M{"completed": false},
		options.FindOne().SetSort(bson.D{{Key: "scheduled_time", Value: 1}})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, classifyMongo("next pending task", err)
	}
	t, err := models.ParseTimestamp(doc.ScheduledTime)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func (s *MongoStore) MarkTaskCompleted(ctx context.Context, id int64, durationMS int64, at time.Time) (bool, error) {
	res, err := s.tasks.UpdateOne(ctx,
		bson.M{"_id": id, "completed": false},
		bson.M{"$set": bson.M{
			"completed":           true,
			"execution_length_ms": durationMS,
			"completed_time":      models.FormatTimestamp(at),
		}})
	if err != nil {
		return false, classifyMongo("mark task completed", err)
	}
	return res.ModifiedCount == 1, nil
}

func (s *MongoStore) ListTasks(ctx context.Context, filter TaskFilter) ([]models.Task, error) {
	q := bson.M{}
	if filter.EventID != 0 {
		q["event_id"] = filter.EventID
	}
	if filter.PendingOnly {
		q["completed"] = false
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "scheduled_time", Value: 1}, {Key: "priority", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(filter.Offset))
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	return s.findTasks(ctx, "list tasks", q, opts)
}

func (s *MongoStore) DeletePendingTask(ctx context.Context, id int64) error {
	res, err := s.tasks.DeleteOne(ctx, bson.M{"_id": id, "completed": false})
	if err != nil {
		return classifyMongo("delete task", err)
	}
	if res.DeletedCount == 1 {
		return nil
	}
	n, err := s.tasks.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return classifyMongo("delete task", err)
	}
	if n > 0 {
		return fmt.Errorf("delete task %d: already completed: %w", id, ErrConflict)
	}
	return fmt.Errorf("delete task: %w", ErrNotFound)
}

func (s *MongoStore) findTasks(ctx context.Context, op string, filter bson.M, opts *options.FindOptions) ([]models.Task, error) {
	var docs []taskDoc
	if err := s.findAll(ctx, s.tasks, filter, opts, &docs); err != nil {
		return nil, classifyMongo(op, err)
	}
	out := make([]models.Task, 0, len(docs))
	for _, d := range docs {
		t, err := d.model()
		if err != nil {
			return nil, fmt.Errorf("task %d: %w", d.ID, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *MongoStore) findAll(ctx context.Context, col *mongo.Collection, filter bson.M, opts *options.FindOptions, out any) error {
	cursor, err := col.Find(ctx, filter, opts)
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)
	return cursor.All(ctx, out)
}

func (s *MongoStore) RecordNotification(ctx context.Context, eventID int64, kind models.NotificationKind, at time.Time) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown notification type %q", kind)
	}
	id, err := s.nextIDs(ctx, "event_notifications", 1)
	if err != nil {
		return err
	}
	_, err = s.notifications.InsertOne(ctx, notificationDoc{
		ID: id, EventID: eventID, Kind: string(kind), SentAt: models.FormatTimestamp(at),
	})
	return classifyMongo("record notification", err)
}

func (s *MongoStore) ListNotifications(ctx context.Context, eventID int64) ([]models.Notification, error) {
	var docs []notificationDoc
	if err := s.findAll(ctx, s.notifications, bson.M{"event_id": eventID},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}), &docs); err != nil {
		return nil, classifyMongo("list notifications", err)
	}
	out := make([]models.Notification, 0, len(docs))
	for _, d := range docs {
		sent, err := models.ParseTimestamp(d.SentAt)
		if err != nil {
			return nil, err
		}
		out = append(out, models.Notification{ID: d.ID, EventID: d.EventID, Kind: models.NotificationKind(d.Kind), SentAt: sent})
	}
	return out, nil
}

func (s *MongoStore) SaveWinners(ctx context.Context, eventID int64, winners []models.Winner) error {
	if len(winners) == 0 {
		return nil
	}
	first, err := s.nextIDs(ctx, "event_winners", len(winners))
	if err != nil {
		return err
	}
	docs := make([]any, len(winners))
	for i, w := range winners {
		docs[i] = winnerDoc{
			ID: first + int64(i), EventID: eventID, PlayerName: w.PlayerName,
			FinalScore: w.FinalScore, WasOnline: w.WasOnline,
			RewardedAt: models.FormatTimestamp(w.RewardedAt),
		}
	}
	_, err = s.winners.InsertMany(ctx, docs)
	return classifyMongo("save winners", err)
}

func (s *MongoStore) ListWinners(ctx context.Context, eventID int64) ([]models.Winner, error) {
	var docs []winnerDoc
	if err := s.findAll(ctx, s.winners, bson.M{"event_id": eventID},
		options.Find().SetSort(bson.D{{Key: "final_score", Value: -1}, {Key: "_id", Value: 1}}), &docs); err != nil {
		return nil, classifyMongo("list winners", err)
	}
	out := make([]models.Winner, 0, len(docs))
	for _, d := range docs {
		at, err := models.ParseTimestamp(d.RewardedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, models.Winner{
			ID: d.ID, EventID: d.EventID, PlayerName: d.PlayerName,
			FinalScore: d.FinalScore, WasOnline: d.WasOnline, RewardedAt: at,
		})
	}
	return out, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return classifyMongo("ping", s.client.Ping(ctx, nil))
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func classifyMongo(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%s: %w: %w", op, ErrConflict, err)
	case mongo.IsNetworkError(err), mongo.IsTimeout(err), errors.Is(err, mongo.ErrClientDisconnected):
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
