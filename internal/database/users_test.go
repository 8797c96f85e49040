package database

import (
	"context"
	"testing"

	"trainhub/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserCRUD(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	ctx := context.Background()
	rate := 65.0
	user := &models.User{
		Name:       "Ivan",
		Email:      "ivan@example.com",
		Role:       models.RoleTrainer,
		IsApproved: true,
		HourlyRate: &rate,
		Availability: &models.Availability{
			Days:      []string{"monday", "wednesday"},
			TimeSlots: []models.TimeSlot{{Start: "09:00", End: "12:00"}},
		},
		TelegramChatID: 4242,
	}

	// Create
	require.NoError(t, db.UpsertUser(ctx, user))
	require.NotZero(t, user.ID)

	found, err := db.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ivan", found.Name)
	assert.True(t, found.IsTrainer())
	require.NotNil(t, found.HourlyRate)
	assert.Equal(t, 65.0, *found.HourlyRate)
	require.NotNil(t, found.Availability)
	assert.Equal(t, []string{"monday", "wednesday"}, found.Availability.Days)
	assert.Equal(t, int64(4242), found.TelegramChatID)

	// Update drops the cached copy
	user.IsApproved = false
	user.HourlyRate = nil
	require.NoError(t, db.UpsertUser(ctx, user))

	found, err = db.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, found.IsApproved)
	assert.Nil(t, found.HourlyRate)

	_, err = db.GetUserByID(ctx, 999)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestGetUserByID_ReturnsCopy(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	seedUsers(t, db)

	ctx := context.Background()
	first, err := db.GetUserByID(ctx, trainerID)
	require.NoError(t, err)
	first.Name = "mutated"

	second, err := db.GetUserByID(ctx, trainerID)
	require.NoError(t, err)
	assert.Equal(t, "Trainer", second.Name)
}

func TestUsersByRole(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	seedUsers(t, db)

	ctx := context.Background()
	trainers, err := db.GetUsersByRole(ctx, models.RoleTrainer)
	require.NoError(t, err)
	assert.Len(t, trainers, 2)

	clients, err := db.GetUsersByRole(ctx, models.RoleClient)
	require.NoError(t, err)
	assert.Len(t, clients, 2)

	all, err := db.GetAllUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestUpsertUser_RejectsUnknownRole(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	err := db.UpsertUser(context.Background(), &models.User{Name: "x", Role: "coach"})
	assert.Error(t, err)
}

func TestRecomputeTrainerRating_UnknownTrainer(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	_, err := db.RecomputeTrainerRating(context.Background(), 42)
	assert.ErrorIs(t, err, ErrUserNotFound)
}
