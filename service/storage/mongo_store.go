package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"LobbyHub/data/database/mgo/mongoutil"
	"LobbyHub/global/config"
	"LobbyHub/logger"
	"LobbyHub/module/chat/model"
	usermodel "LobbyHub/module/user/model"
	"LobbyHub/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoStore keeps identities, friend rows and requests in three
// collections. Multi-document writes run in transactions, which need a
// replica set or sharded cluster.
type MongoStore struct {
	cli      *mongoutil.Client
	db       *mongo.Database
	users    *mongo.Collection
	friends  *mongo.Collection
	requests *mongo.Collection
}

// OpenMongo connects, ensures indexes and returns the store.
func OpenMongo(ctx context.Context, conf config.MongoConfig) (*MongoStore, error) {
	cli, err := mongoutil.NewMongoDB(ctx, &mongoutil.Config{
		Uri:         conf.Uri,
		Database:    conf.Database,
		Username:    conf.Username,
		Password:    conf.Password,
		AuthSource:  conf.AuthSource,
		MaxPoolSize: conf.MaxPoolSize,
		MaxRetry:    conf.MaxRetry,
	})
	if err != nil {
		return nil, err
	}
	s := NewMongoStore(cli.GetDB())
	s.cli = cli
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = cli.Close(ctx)
		return nil, err
	}
	logger.Info("storage: mongo ready", zap.String("db", conf.Database))
	return s, nil
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		db:       db,
		users:    db.Collection(usermodel.UserTableName),
		friends:  db.Collection(model.FriendTableName),
		requests: db.Collection(model.FriendRequestTableName),
	}
}

func (s *MongoStore) Close(ctx context.Context) error {
	if s.cli == nil {
		return nil
	}
	return s.cli.Close(ctx)
}

func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	pendingOnly := options.Index().SetName(pendingPairIndex).SetUnique(true).
		SetPartialFilterExpression(bson.M{"handle_result": model.RequestPending, "pair_key": bson.M{"$exists": true}})
	plan := []struct {
		coll   *mongo.Collection
		models []mongo.IndexModel
	}{
		{s.users, []mongo.IndexModel{{Keys: bson.D{{Key: "user_id", Value: 1}}, Options: unique}}},
		{s.friends, []mongo.IndexModel{
			{Keys: bson.D{{Key: "owner_user_id", Value: 1}, {Key: "friend_user_id", Value: 1}}, Options: unique},
		}},
		{s.requests, []mongo.IndexModel{
			{Keys: bson.D{{Key: "request_id", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "from_user_id", Value: 1}}},
			{Keys: bson.D{{Key: "to_user_id", Value: 1}}},
			{Keys: bson.D{{Key: "pair_key", Value: 1}}, Options: pendingOnly},
		}},
	}
	for _, p := range plan {
		if _, err := p.coll.Indexes().CreateMany(ctx, p.models); err != nil {
			return errs.WrapMsg(err, "mongo: create indexes", "collection", p.coll.Name())
		}
	}
	return nil
}

// withTx runs fn inside a transaction.
func (s *MongoStore) withTx(ctx context.Context, fn func(sc mongo.SessionContext) error) error {
	sess, err := s.db.Client().StartSession()
	if err != nil {
		return errs.WrapMsg(err, "mongo: start session")
	}
	defer sess.EndSession(ctx)
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, fn(sc)
	})
	return err
}

// ===== Directory =====

func (s *MongoStore) PutUser(ctx context.Context, u usermodel.User) error {
	if u.UserID == "" {
		return errs.ErrArgs.WrapMsg("put user: empty user id")
	}
	now := time.Now()
	created := u.CreateTime
	if created.IsZero() {
		created = now
	}
	_, err := s.users.UpdateOne(ctx,
		bson.M{"user_id": u.UserID},
		bson.M{
			"$set":         bson.M{"nickname": u.Nickname, "update_time": now},
			"$setOnInsert": bson.M{"create_time": created},
		},
		options.Update().SetUpsert(true),
	)
	return errs.WrapMsg(err, "mongo: put user", "user", u.UserID)
}

func (s *MongoStore) GetUser(ctx context.Context, userID string) (usermodel.User, error) {
	var u usermodel.User
	err := s.users.FindOne(ctx, bson.M{"user_id": userID}).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return u, errs.ErrUserNotFound.WrapMsg("get user", "user", userID)
	}
	return u, errs.WrapMsg(err, "mongo: get user", "user", userID)
}

func (s *MongoStore) UserExists(ctx context.Context, userID string) (bool, error) {
	n, err := s.users.CountDocuments(ctx, bson.M{"user_id": userID}, options.Count().SetLimit(1))
	if err != nil {
		return false, errs.WrapMsg(err, "mongo: user exists", "user", userID)
	}
	return n > 0, nil
}

func (s *MongoStore) ExistingUsers(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = false
	}
	if len(ids) == 0 {
		return out, nil
	}
	found, err := s.distinctStrings(ctx, s.users, "user_id", bson.M{"user_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, errs.WrapMsg(err, "mongo: existing users")
	}
	for _, id := range found {
		out[id] = true
	}
	return out, nil
}

func (s *MongoStore) DeleteUser(ctx context.Context, userID string) error {
	_, err := s.users.DeleteOne(ctx, bson.M{"user_id": userID})
	return errs.WrapMsg(err, "mongo: delete user", "user", userID)
}

func (s *MongoStore) ListUserIDs(ctx context.Context) ([]string, error) {
	ids, err := s.distinctStrings(ctx, s.users, "user_id", bson.M{})
	if err != nil {
		return nil, errs.WrapMsg(err, "mongo: list users")
	}
	return ids, nil
}

func (s *MongoStore) distinctStrings(ctx context.Context, coll *mongo.Collection, field string, filter bson.M) ([]string, error) {
	vals, err := coll.Distinct(ctx, field, filter)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if str, ok := v.(string); ok {
			out = append(out, str)
		}
	}
	return out, nil
}

// ===== RelationStore =====

func (s *MongoStore) ListFriends(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.distinctStrings(ctx, s.friends, "friend_user_id", bson.M{"owner_user_id": userID})
	if err != nil {
		return nil, errs.WrapMsg(err, "mongo: list friends", "user", userID)
	}
	return ids, nil
}

func (s *MongoStore) ListRequests(ctx context.Context, userID string) ([]model.FriendRequest, error) {
	cur, err := s.requests.Find(ctx,
		bson.M{"$or": bson.A{bson.M{"from_user_id": userID}, bson.M{"to_user_id": userID}}},
		options.Find().SetSort(bson.D{{Key: "create_time", Value: 1}, {Key: "request_id", Value: 1}}),
	)
	if err != nil {
		return nil, errs.WrapMsg(err, "mongo: list requests", "user", userID)
	}
	var out []model.FriendRequest
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.WrapMsg(err, "mongo: decode requests", "user", userID)
	}
	return out, nil
}

func (s *MongoStore) GetRequest(ctx context.Context, requestID string) (model.FriendRequest, error) {
	var req model.FriendRequest
	err := s.requests.FindOne(ctx, bson.M{"request_id": requestID}).Decode(&req)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return req, errs.ErrRequestNotFound.WrapMsg("get request", "request", requestID)
	}
	return req, errs.WrapMsg(err, "mongo: get request", "request", requestID)
}

// pendingPairIndex allows one pending request per unordered pair.
const pendingPairIndex = "pending_pair"

// requestDoc is a request as stored, with the pair key the partial unique
// index is built on.
type requestDoc struct {
	model.FriendRequest `bson:",inline"`
	Pair                string `bson:"pair_key"`
}

func toRequestDoc(req model.FriendRequest) requestDoc {
	return requestDoc{FriendRequest: req, Pair: req.PairKey()}
}

func (s *MongoStore) CreateRequest(ctx context.Context, req model.FriendRequest) error {
	_, err := s.requests.InsertOne(ctx, toRequestDoc(req))
	return createRequestErr(err, req)
}

func createRequestErr(err error, req model.FriendRequest) error {
	if !mongo.IsDuplicateKeyError(err) {
		return errs.WrapMsg(err, "mongo: create request", "request", req.RequestID)
	}
	if strings.Contains(err.Error(), pendingPairIndex) {
		return errs.ErrDuplicatePending.WrapMsg("create request", "pair", req.PairKey())
	}
	return errs.ErrArgs.WrapMsg("request id already used", "request", req.RequestID)
}

func (s *MongoStore) SaveRequest(ctx context.Context, req model.FriendRequest) error {
	return s.replaceRequest(ctx, req)
}

func (s *MongoStore) replaceRequest(ctx context.Context, req model.FriendRequest) error {
	res, err := s.requests.ReplaceOne(ctx, bson.M{"request_id": req.RequestID}, toRequestDoc(req))
	if err != nil {
		return errs.WrapMsg(err, "mongo: save request", "request", req.RequestID)
	}
	if res.MatchedCount == 0 {
		return errs.ErrRequestNotFound.WrapMsg("save request", "request", req.RequestID)
	}
	return nil
}

func (s *MongoStore) CommitAcceptance(ctx context.Context, accepted model.FriendRequest, edge model.FriendEdge, rejected []model.FriendRequest) error {
	return s.withTx(ctx, func(sc mongo.SessionContext) error {
		if err := s.replaceRequest(sc, accepted); err != nil {
			return err
		}
		for _, r := range rejected {
			if err := s.replaceRequest(sc, r); err != nil {
				return err
			}
		}
		for _, row := range edge.Rows() {
			_, err := s.friends.UpdateOne(sc,
				bson.M{"owner_user_id": row.OwnerUserID, "friend_user_id": row.FriendUserID},
				bson.M{"$setOnInsert": row},
				options.Update().SetUpsert(true),
			)
			if err != nil {
				return errs.WrapMsg(err, "mongo: insert friend row", "owner", row.OwnerUserID)
			}
		}
		return nil
	})
}

func (s *MongoStore) RemoveEdge(ctx context.Context, a, b string) error {
	return s.withTx(ctx, func(sc mongo.SessionContext) error {
		_, err := s.friends.DeleteMany(sc, bson.M{"$or": bson.A{
			bson.M{"owner_user_id": a, "friend_user_id": b},
			bson.M{"owner_user_id": b, "friend_user_id": a},
		}})
		return errs.WrapMsg(err, "mongo: remove edge", "a", a, "b", b)
	})
}
