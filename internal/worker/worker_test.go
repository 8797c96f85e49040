package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"trainhub/internal/database"
	"trainhub/internal/domain"
	"trainhub/internal/events"
	"trainhub/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestProcessTaskSuccess(t *testing.T) {
	db := newTestDB(t)
	notifier := &fakeNotifier{}
	ledger := &fakeLedger{}
	worker := NewOutboxWorker(db, db, []domain.Notifier{notifier}, ledger, nil, RetryPolicy{}, nil)

	ctx := context.Background()
	if err := worker.EnqueueTask(ctx, events.EventBookingCreated, testBooking(1)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	worker.processTask(ctx, &task)

	status, retryCount, nextRetry := loadTaskStatus(t, db, task.ID)
	if status != models.TaskStatusCompleted {
		t.Fatalf("expected status=completed, got %s", status)
	}
	if retryCount != 0 {
		t.Fatalf("expected retry_count=0, got %d", retryCount)
	}
	if nextRetry.Valid {
		t.Fatalf("expected next_retry_at to be NULL")
	}

	if len(notifier.sent) != 1 || notifier.sent[0] != 1 {
		t.Fatalf("expected trainer 1 to be notified, got %v", notifier.sent)
	}
	if ledger.upsertCalls != 1 || ledger.statusCalls != 0 {
		t.Fatalf("expected one ledger upsert, got upsert=%d status=%d", ledger.upsertCalls, ledger.statusCalls)
	}
}

func TestProcessTaskDeliveredOnce(t *testing.T) {
	db := newTestDB(t)
	notifier := &fakeNotifier{}
	ledger := &fakeLedger{}
	worker := NewOutboxWorker(db, db, []domain.Notifier{notifier}, ledger, nil, RetryPolicy{}, nil)

	ctx := context.Background()
	if err := worker.EnqueueTask(ctx, events.EventBookingCreated, testBooking(9)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// polling picks the task up while a copy still sits in the channel
	tasks, err := db.GetPendingNotificationTasks(ctx, 10)
	if err != nil || len(tasks) != 1 {
		t.Fatalf("expected 1 pending task, got %d (%v)", len(tasks), err)
	}
	worker.processTask(ctx, &tasks[0])

	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	worker.processTask(ctx, &task)

	if len(notifier.sent) != 1 || notifier.sent[0] != 1 {
		t.Fatalf("expected a single notification to trainer 1, got %v", notifier.sent)
	}
	if ledger.upsertCalls != 1 {
		t.Fatalf("expected one ledger upsert, got %d", ledger.upsertCalls)
	}
	status, _, _ := loadTaskStatus(t, db, task.ID)
	if status != models.TaskStatusCompleted {
		t.Fatalf("expected status=completed, got %s", status)
	}
}

func TestProcessTaskNotifiesBothParties(t *testing.T) {
	db := newTestDB(t)
	notifier := &fakeNotifier{}
	ledger := &fakeLedger{}
	worker := NewOutboxWorker(db, db, []domain.Notifier{notifier}, ledger, nil, RetryPolicy{}, nil)

	ctx := context.Background()
	b := testBooking(2)
	b.Status = models.StatusCancelled
	if err := worker.EnqueueTask(ctx, events.EventBookingCancelled, b); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	task, _ := worker.tryLocalQueue()
	worker.processTask(ctx, &task)

	if len(notifier.sent) != 2 {
		t.Fatalf("expected 2 notifications, got %v", notifier.sent)
	}
	if ledger.lastStatus != models.StatusCancelled {
		t.Fatalf("expected ledger status cancelled, got %q", ledger.lastStatus)
	}
}

func TestProcessTaskDeletedMarksLedger(t *testing.T) {
	db := newTestDB(t)
	ledger := &fakeLedger{}
	worker := NewOutboxWorker(db, db, nil, ledger, nil, RetryPolicy{}, nil)

	if err := worker.handleTask(context.Background(), events.EventBookingDeleted, testBooking(3)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if ledger.lastStatus != "deleted" {
		t.Fatalf("expected ledger status deleted, got %q", ledger.lastStatus)
	}
}

func TestProcessTaskRetry(t *testing.T) {
	db := newTestDB(t)
	notifier := &fakeNotifier{err: errors.New("boom")}
	worker := NewOutboxWorker(db, db, []domain.Notifier{notifier}, nil, nil, RetryPolicy{MaxRetries: 3, InitialDelay: time.Second}, nil)

	ctx := context.Background()
	if err := worker.EnqueueTask(ctx, events.EventBookingApproved, testBooking(4)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	worker.processTask(ctx, &task)

	status, retryCount, nextRetry := loadTaskStatus(t, db, task.ID)
	if status != models.TaskStatusRetry {
		t.Fatalf("expected status=retry, got %s", status)
	}
	if retryCount != 1 {
		t.Fatalf("expected retry_count=1, got %d", retryCount)
	}
	if !nextRetry.Valid || nextRetry.Time.Before(time.Now()) {
		t.Fatalf("expected next_retry_at in future, got %v", nextRetry)
	}
}

func TestProcessTaskUnknownRecipientRetries(t *testing.T) {
	db := newTestDB(t)
	worker := NewOutboxWorker(db, db, []domain.Notifier{&fakeNotifier{}}, nil, nil, RetryPolicy{MaxRetries: 3}, nil)

	b := testBooking(5)
	b.ClientID = 99
	err := worker.handleTask(context.Background(), events.EventBookingApproved, b)
	if !errors.Is(err, database.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestProcessTaskFail(t *testing.T) {
	db := newTestDB(t)
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer rdb.Close()

	ledger := &fakeLedger{err: errors.New("fatal")}
	worker := NewOutboxWorker(db, db, nil, ledger, rdb, RetryPolicy{MaxRetries: 1}, nil)

	ctx := context.Background()
	if err := worker.EnqueueTask(ctx, events.EventBookingCreated, testBooking(6)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	task, ok := worker.tryRedis(ctx)
	if !ok {
		t.Fatalf("expected task in redis queue")
	}
	worker.processTask(ctx, &task)

	status, _, _ := loadTaskStatus(t, db, task.ID)
	if status != models.TaskStatusFailed {
		t.Fatalf("expected status=failed, got %s", status)
	}
	dead, err := s.List("notifications:deadletter")
	if err != nil || len(dead) != 1 {
		t.Fatalf("expected 1 deadletter entry, got %v (%v)", dead, err)
	}
}

func TestProcessTaskBadPayload(t *testing.T) {
	db := newTestDB(t)
	worker := NewOutboxWorker(db, db, nil, nil, nil, RetryPolicy{}, nil)

	ctx := context.Background()
	task := models.NotificationTask{TaskType: events.EventBookingCreated, BookingID: 7, Payload: "invalid json"}
	if err := db.CreateNotificationTask(ctx, &task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	worker.processTask(ctx, &task)

	status, _, _ := loadTaskStatus(t, db, task.ID)
	if status != models.TaskStatusFailed {
		t.Fatalf("expected status=failed, got %s", status)
	}
}

func TestOutboxWorker_EnqueueTask(t *testing.T) {
	db := newTestDB(t)
	worker := NewOutboxWorker(db, db, nil, nil, nil, RetryPolicy{}, nil)
	ctx := context.Background()

	t.Run("ValidTask", func(t *testing.T) {
		if err := worker.EnqueueTask(ctx, events.EventBookingCreated, testBooking(1)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		tasks, err := db.GetPendingNotificationTasks(ctx, 10)
		if err != nil {
			t.Fatalf("pending: %v", err)
		}
		if len(tasks) != 1 || tasks[0].BookingID != 1 {
			t.Fatalf("expected 1 pending task for booking 1, got %+v", tasks)
		}
		var payload taskPayload
		if err := json.Unmarshal([]byte(tasks[0].Payload), &payload); err != nil || payload.Booking.ID != 1 {
			t.Fatalf("unexpected payload %q: %v", tasks[0].Payload, err)
		}
	})

	t.Run("InvalidTaskType", func(t *testing.T) {
		if err := worker.EnqueueTask(ctx, "", testBooking(1)); err == nil {
			t.Fatalf("expected error for empty task type")
		}
	})

	t.Run("InvalidBookingID", func(t *testing.T) {
		if err := worker.EnqueueTask(ctx, events.EventBookingCreated, &models.Booking{}); err == nil {
			t.Fatalf("expected error for missing booking id")
		}
	})
}

func TestOutboxWorker_StartDrainsPolling(t *testing.T) {
	db := newTestDB(t)
	notifier := &fakeNotifier{}
	worker := NewOutboxWorker(db, db, []domain.Notifier{notifier}, nil, nil, RetryPolicy{}, nil)
	worker.pollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	payload, _ := json.Marshal(taskPayload{Booking: testBooking(8)})
	task := models.NotificationTask{TaskType: events.EventBookingApproved, BookingID: 8, Payload: string(payload)}
	if err := db.CreateNotificationTask(ctx, &task); err != nil {
		t.Fatalf("create task: %v", err)
	}

	done := make(chan struct{})
	go func() {
		worker.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		status, _, _ := loadTaskStatus(t, db, task.ID)
		if status == models.TaskStatusCompleted {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	status, _, _ := loadTaskStatus(t, db, task.ID)
	if status != models.TaskStatusCompleted {
		t.Fatalf("expected polled task to complete, got %s", status)
	}
}

func TestDecodePayload(t *testing.T) {
	t.Run("ValidPayload", func(t *testing.T) {
		decoded, err := decodePayload(`{"booking":{"id":123,"status":"approved"}}`)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if decoded.Booking.ID != 123 || decoded.Booking.Status != "approved" {
			t.Fatalf("unexpected decoded payload: %+v", decoded.Booking)
		}
	})

	t.Run("MissingBooking", func(t *testing.T) {
		if _, err := decodePayload(`{}`); err == nil {
			t.Fatalf("expected error for missing booking")
		}
	})

	t.Run("InvalidPayload", func(t *testing.T) {
		if _, err := decodePayload(`invalid json`); err == nil {
			t.Fatalf("expected error for invalid json")
		}
	})
}

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, BackoffFactor: 2, MaxDelay: 5 * time.Second}
	d1 := policy.NextDelay(1)
	d2 := policy.NextDelay(2)
	d3 := policy.NextDelay(5)

	if d1 != time.Second {
		t.Fatalf("attempt1 expected 1s, got %s", d1)
	}
	if d2 != 2*time.Second {
		t.Fatalf("attempt2 expected 2s, got %s", d2)
	}
	if d3 != 5*time.Second {
		t.Fatalf("attempt5 expected capped 5s, got %s", d3)
	}
}

// Helpers

type fakeNotifier struct {
	err  error
	sent []int64
}

func (f *fakeNotifier) Channel() string { return "fake" }

func (f *fakeNotifier) Notify(_ context.Context, recipient *models.User, _ string) error {
	f.sent = append(f.sent, recipient.ID)
	return f.err
}

type fakeLedger struct {
	err         error
	upsertCalls int
	statusCalls int
	lastStatus  string
}

func (f *fakeLedger) UpsertBooking(_ context.Context, _ *models.Booking) error {
	f.upsertCalls++
	return f.err
}

func (f *fakeLedger) UpdateBookingStatus(_ context.Context, _ int64, status string) error {
	f.statusCalls++
	f.lastStatus = status
	return f.err
}

func testBooking(id int64) *models.Booking {
	return &models.Booking{
		ID:          id,
		ClientID:    2,
		TrainerID:   1,
		Status:      models.StatusPending,
		SessionDate: time.Date(2030, 1, 7, 0, 0, 0, 0, time.UTC),
		SessionTime: models.SessionTime{Start: "10:00", End: "11:00"},
		Duration:    60,
		Session:     models.SessionDetails{Type: models.SessionInPerson, Location: "Gym"},
	}
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.db")
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	db, err := database.NewDB(path, &logger)
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	for _, u := range []*models.User{
		{ID: 1, Name: "Trainer", Role: models.RoleTrainer, IsApproved: true},
		{ID: 2, Name: "Client", Role: models.RoleClient},
	} {
		if err := db.UpsertUser(context.Background(), u); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}
	return db
}

func loadTaskStatus(t *testing.T, db *database.DB, id int64) (status string, retryCount int, nextRetry sql.NullTime) {
	t.Helper()
	row := db.QueryRowContext(context.Background(), `SELECT status, retry_count, next_retry_at FROM notification_queue WHERE id = ?`, id)
	if err := row.Scan(&status, &retryCount, &nextRetry); err != nil {
		t.Fatalf("scan task: %v", err)
	}
	return status, retryCount, nextRetry
}
