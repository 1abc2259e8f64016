package directory

import (
	"context"
	"errors"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDirectory is a Directory over the "users" and "tickets" collections
// of a MongoDB database.
type MongoDirectory struct {
	users   *mongo.Collection
	tickets *mongo.Collection
	timeout time.Duration
	now     func() time.Time
}

var _ Store = (*MongoDirectory)(nil)

// NewMongoDirectory uses database dbName, "ticketflow" if empty.
func NewMongoDirectory(client *mongo.Client, dbName string) *MongoDirectory {
	if dbName == "" {
		dbName = "ticketflow"
	}
	db := client.Database(dbName)
	return &MongoDirectory{
		users:   db.Collection("users"),
		tickets: db.Collection("tickets"),
		timeout: 5 * time.Second,
		now:     time.Now,
	}
}

// EnsureIndexes creates the unique email index on users.
func (d *MongoDirectory) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	_, err := d.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

// SaveUser upserts u by ID. The email is stored normalized.
func (d *MongoDirectory) SaveUser(ctx context.Context, u User) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if u.CreatedAt.IsZero() {
		u.CreatedAt = d.now()
	}
	u.Email = normalizeEmail(u.Email)
	_, err := d.users.ReplaceOne(ctx, bson.M{"_id": u.ID}, u, options.Replace().SetUpsert(true))
	return err
}

// SaveTicket upserts t by ID.
func (d *MongoDirectory) SaveTicket(ctx context.Context, t Ticket) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if t.CreatedAt.IsZero() {
		t.CreatedAt = d.now()
	}
	if t.Status == "" {
		t.Status = TicketTodo
	}
	_, err := d.tickets.ReplaceOne(ctx, bson.M{"_id": t.ID}, t, options.Replace().SetUpsert(true))
	return err
}

func (d *MongoDirectory) FindUserByEmail(ctx context.Context, email string) (User, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var u User
	err := d.users.FindOne(ctx, bson.M{"email": normalizeEmail(email)}).Decode(&u)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	return u, nil
}

func (d *MongoDirectory) FindTicket(ctx context.Context, id string) (Ticket, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var t Ticket
	err := d.tickets.FindOne(ctx, bson.M{"_id": id}).Decode(&t)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Ticket{}, ErrTicketNotFound
		}
		return Ticket{}, err
	}
	return t, nil
}

func (d *MongoDirectory) FindUser(ctx context.Context, id string) (User, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var u User
	err := d.users.FindOne(ctx, bson.M{"_id": id}).Decode(&u)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	return u, nil
}

func (d *MongoDirectory) ListTickets(ctx context.Context, createdBy string) ([]Ticket, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	filter := bson.M{}
	if createdBy != "" {
		filter["created_by"] = createdBy
	}
	newestFirst := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	cur, err := d.tickets.Find(ctx, filter, newestFirst)
	if err != nil {
		return nil, err
	}
	out := []Ticket{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *MongoDirectory) UpdateTicket(ctx context.Context, t Ticket) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	t.UpdatedAt = d.now()
	res, err := d.tickets.ReplaceOne(ctx, bson.M{"_id": t.ID}, t)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrTicketNotFound
	}
	return nil
}

func (d *MongoDirectory) FindModerator(ctx context.Context, skills []string) (User, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	oldestFirst := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "email", Value: 1}})

	if len(skills) > 0 {
		patterns := make(bson.A, 0, len(skills))
		for _, s := range skills {
			patterns = append(patterns, exactFold(s))
		}
		var u User
		err := d.users.FindOne(ctx, bson.M{
			"role":   string(RoleModerator),
			"skills": bson.M{"$in": patterns},
		}, oldestFirst).Decode(&u)
		if err == nil {
			return u, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return User{}, err
		}
	}

	var admin User
	err := d.users.FindOne(ctx, bson.M{"role": string(RoleAdmin)}, oldestFirst).Decode(&admin)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return User{}, ErrNoAssignee
		}
		return User{}, err
	}
	return admin, nil
}

// exactFold matches s exactly, ignoring case.
func exactFold(s string) primitive.Regex {
	return primitive.Regex{Pattern: "^" + regexp.QuoteMeta(s) + "$", Options: "i"}
}
