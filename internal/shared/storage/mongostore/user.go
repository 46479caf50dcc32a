package mongostore

import (
	"context"
	"fmt"
	"time"

	"users-admin/internal/shared/model"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// userSequence counters 集合中用户 id 计数器的 _id
const userSequence = "users"

// ============================================================================
// UserStore
// ============================================================================

func (s *Store) ListUsers(ctx context.Context) ([]*model.User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	return findMany[model.User](ctx, s.col(ColUsers), bson.D{}, opts)
}

func (s *Store) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return findOne[model.User](ctx, s.col(ColUsers), bson.D{{Key: "_id", Value: id}})
}

// CreateUser 分配 id 后插入；email 冲突时计数器已递增，id 不会被复用
func (s *Store) CreateUser(ctx context.Context, in *model.UserInput) (*model.User, error) {
	v := in.WithDefaults()
	id, err := nextSequence(ctx, s.col(ColCounters), userSequence)
	if err != nil {
		return nil, fmt.Errorf("mongostore: allocate user id: %w", err)
	}

	u := &model.User{
		ID:        id,
		Name:      v.Name,
		Email:     v.Email,
		Role:      v.Role,
		Status:    v.Status,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := insertOne(ctx, s.col(ColUsers), u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, id int64, patch *model.UserPatch) (*model.User, error) {
	update := bson.D{}
	if patch.Name != nil {
		update = append(update, bson.E{Key: "name", Value: *patch.Name})
	}
	if patch.Email != nil {
		update = append(update, bson.E{Key: "email", Value: *patch.Email})
	}
	if patch.Role != nil {
		update = append(update, bson.E{Key: "role", Value: *patch.Role})
	}
	if patch.Status != nil {
		update = append(update, bson.E{Key: "status", Value: *patch.Status})
	}
	if len(update) == 0 {
		return s.GetUser(ctx, id)
	}
	return updateAndFetch[model.User](ctx, s.col(ColUsers), id, update)
}

func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	return deleteByID(ctx, s.col(ColUsers), id)
}

func (s *Store) CountUsers(ctx context.Context) (int, error) {
	n, err := s.col(ColUsers).CountDocuments(ctx, bson.D{})
	return int(n), wrapError(err)
}
