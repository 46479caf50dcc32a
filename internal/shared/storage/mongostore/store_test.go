package mongostore

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"users-admin/internal/shared/model"
	"users-admin/internal/shared/storage"
)

const testDB = "users_admin_test"

func testURI() string {
	if uri := os.Getenv("MONGO_TEST_URI"); uri != "" {
		return uri
	}
	return "mongodb://localhost:27017"
}

// testStore 创建测试用 Store，使用独立数据库避免污染
func testStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewStore(testURI(), testDB)
	if err != nil {
		t.Skipf("MongoDB not available: %v", err)
	}

	// 清空测试数据库
	ctx := context.Background()
	require.NoError(t, s.db.Drop(ctx))
	// 重新创建索引
	require.NoError(t, s.ensureIndexes(ctx))

	t.Cleanup(func() {
		s.db.Drop(context.Background())
		s.Close()
	})

	return s
}

func TestUserCRUD(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a, err := s.CreateUser(ctx, &model.UserInput{Name: "Ann", Email: "ann@x.com"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.ID)
	assert.Equal(t, model.UserRoleUser, a.Role)
	assert.Equal(t, model.UserStatusActive, a.Status)

	b, err := s.CreateUser(ctx, &model.UserInput{Name: "Bob", Email: "bob@x.com", Role: model.UserRoleManager})
	require.NoError(t, err)
	assert.Equal(t, int64(2), b.ID)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, b.ID, users[0].ID)

	got, err := s.GetUser(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "ann@x.com", got.Email)
	assert.True(t, a.CreatedAt.Equal(got.CreatedAt))

	pending := model.UserStatusPending
	got, err = s.UpdateUser(ctx, a.ID, &model.UserPatch{Status: &pending})
	require.NoError(t, err)
	assert.Equal(t, model.UserStatusPending, got.Status)
	assert.Equal(t, "Ann", got.Name)

	require.NoError(t, s.DeleteUser(ctx, b.ID))
	assert.ErrorIs(t, s.DeleteUser(ctx, b.ID), storage.ErrNotFound)

	c, err := s.CreateUser(ctx, &model.UserInput{Name: "Cy", Email: "cy@x.com"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), c.ID, "ids are never reused")

	n, err := s.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestUserNotFoundAndDuplicate(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.GetUser(ctx, 404)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	name := "x"
	_, err = s.UpdateUser(ctx, 404, &model.UserPatch{Name: &name})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.CreateUser(ctx, &model.UserInput{Name: "A", Email: "a@x.com"})
	require.NoError(t, err)
	b, err := s.CreateUser(ctx, &model.UserInput{Name: "B", Email: "b@x.com"})
	require.NoError(t, err)

	_, err = s.CreateUser(ctx, &model.UserInput{Name: "A2", Email: "a@x.com"})
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	email := "a@x.com"
	_, err = s.UpdateUser(ctx, b.ID, &model.UserPatch{Email: &email})
	assert.ErrorIs(t, err, storage.ErrDuplicate)
}

func TestNewStore_DuplicateEmailsBlockIndex(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// 去掉唯一索引后写入重复 email，模拟历史脏数据
	users := s.col(ColUsers)
	require.NoError(t, users.Drop(ctx))
	_, err := users.InsertMany(ctx, []any{
		bson.M{"_id": int64(1), "name": "Ann", "email": "dup@x.com"},
		bson.M{"_id": int64(2), "name": "Bob", "email": "dup@x.com"},
	})
	require.NoError(t, err)

	_, err = NewStore(testURI(), testDB)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ensure indexes")
}
