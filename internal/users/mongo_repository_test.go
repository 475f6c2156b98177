package users

import (
	"context"
	"testing"

	"github.com/kabsmeiou/Pamahres/internal/models"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func TestMongoRepository(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("get missing user", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "pamahres.users", mtest.FirstBatch))
		u, err := NewMongoRepository(mt.DB).GetByUsername(context.Background(), "user_1")
		require.NoError(mt, err)
		require.Nil(mt, u)
	})

	mt.Run("create new user", func(mt *mtest.T) {
		mt.AddMockResponses(
			bson.D{{Key: "ok", Value: 1}, {Key: "value", Value: bson.D{
				{Key: "_id", Value: "u1"},
				{Key: "username", Value: "user_1"},
				{Key: "email", Value: "a@b.com"},
			}}},
			mtest.CreateSuccessResponse(),
			mtest.CreateSuccessResponse(),
		)
		u, created, err := NewMongoRepository(mt.DB).CreateWithDependents(context.Background(), &models.User{ID: "u1", Username: "user_1", Email: "a@b.com"})
		require.NoError(mt, err)
		require.True(mt, created)
		require.Equal(mt, "u1", u.ID)
		require.Equal(mt, "a@b.com", u.Email)
	})

	mt.Run("existing user is returned unchanged", func(mt *mtest.T) {
		mt.AddMockResponses(
			bson.D{{Key: "ok", Value: 1}, {Key: "value", Value: bson.D{
				{Key: "_id", Value: "existing"},
				{Key: "username", Value: "user_1"},
				{Key: "email", Value: "old@b.com"},
			}}},
			mtest.CreateSuccessResponse(),
			mtest.CreateSuccessResponse(),
		)
		u, created, err := NewMongoRepository(mt.DB).CreateWithDependents(context.Background(), &models.User{ID: "u2", Username: "user_1", Email: "new@b.com"})
		require.NoError(mt, err)
		require.False(mt, created)
		require.Equal(mt, "existing", u.ID)
		require.Equal(mt, "old@b.com", u.Email)
	})

	mt.Run("duplicate key falls back to read", func(mt *mtest.T) {
		mt.AddMockResponses(
			mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 11000, Name: "DuplicateKey", Message: "E11000 duplicate key error"}),
			mtest.CreateCursorResponse(1, "pamahres.users", mtest.FirstBatch, bson.D{
				{Key: "_id", Value: "winner"},
				{Key: "username", Value: "user_1"},
			}),
			mtest.CreateSuccessResponse(),
			mtest.CreateSuccessResponse(),
		)
		u, created, err := NewMongoRepository(mt.DB).CreateWithDependents(context.Background(), &models.User{ID: "u3", Username: "user_1"})
		require.NoError(mt, err)
		require.False(mt, created)
		require.Equal(mt, "winner", u.ID)
	})

	mt.Run("dependent write failure", func(mt *mtest.T) {
		mt.AddMockResponses(
			bson.D{{Key: "ok", Value: 1}, {Key: "value", Value: bson.D{{Key: "_id", Value: "u4"}, {Key: "username", Value: "user_4"}}}},
			mtest.CreateCommandErrorResponse(mtest.CommandError{Code: 2, Name: "BadValue", Message: "boom"}),
		)
		_, _, err := NewMongoRepository(mt.DB).CreateWithDependents(context.Background(), &models.User{ID: "u4", Username: "user_4"})
		require.ErrorContains(mt, err, "upsert profiles")
	})
}
