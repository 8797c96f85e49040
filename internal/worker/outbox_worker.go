package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"trainhub/internal/database"
	"trainhub/internal/domain"
	"trainhub/internal/events"
	"trainhub/internal/metrics"
	"trainhub/internal/models"
	"trainhub/internal/notify"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// taskPayload is persisted in NotificationTask.Payload as JSON.
type taskPayload struct {
	Booking *models.Booking `json:"booking"`
}

// OutboxWorker drains notification_queue: it notifies the parties of a
// booking and mirrors the booking into the ledger.
type OutboxWorker struct {
	db            *database.DB
	users         domain.UserRepository
	notifiers     []domain.Notifier
	ledger        domain.LedgerWriter
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan models.NotificationTask
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        *zerolog.Logger
}

// NewOutboxWorker builds a worker with sane defaults. ledger and redisClient
// may be nil.
func NewOutboxWorker(
	db *database.DB,
	users domain.UserRepository,
	notifiers []domain.Notifier,
	ledger domain.LedgerWriter,
	redisClient *redis.Client,
	retry RetryPolicy,
	logger *zerolog.Logger,
) *OutboxWorker {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 1 * time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &OutboxWorker{
		db:            db,
		users:         users,
		notifiers:     notifiers,
		ledger:        ledger,
		redis:         redisClient,
		retryPolicy:   retry,
		queue:         make(chan models.NotificationTask, models.WorkerQueueSize),
		redisQueueKey: "notifications:queue",
		deadLetterKey: "notifications:deadletter",
		pollInterval:  2 * time.Second,
		batchSize:     20,
		logger:        logger,
	}
}

// EnqueueTask persists a task for event and schedules it via redis or the
// in-memory queue.
func (w *OutboxWorker) EnqueueTask(ctx context.Context, event string, booking *models.Booking) error {
	if event == "" {
		return errors.New("task type is required")
	}
	if booking == nil || booking.ID == 0 {
		return errors.New("booking id is required")
	}

	payloadBytes, err := json.Marshal(taskPayload{Booking: booking})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	task := models.NotificationTask{
		TaskType:  event,
		BookingID: booking.ID,
		Payload:   string(payloadBytes),
		Status:    models.TaskStatusPending,
	}
	if err := w.db.CreateNotificationTask(ctx, &task); err != nil {
		return fmt.Errorf("persist notification task: %w", err)
	}

	if w.redis != nil {
		if err := w.pushRedis(ctx, task); err != nil {
			w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("redis push failed, fallback to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- task:
	default:
		w.logger.Warn().Int64("task_id", task.ID).Msg("in-memory queue full, task left to polling")
	}
	return nil
}

// Start runs the main loop until ctx is done.
func (w *OutboxWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("outbox worker started")
	defer w.logger.Info().Msg("outbox worker stopped")

	if n, err := w.db.RequeueProcessingTasks(ctx); err != nil {
		w.logger.Error().Err(err).Msg("requeue processing tasks")
	} else if n > 0 {
		w.logger.Warn().Int64("count", n).Msg("requeued tasks left in processing")
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, &t)
			continue
		}

		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &t)
			continue
		}

		tasks, err := w.db.GetPendingNotificationTasks(ctx, w.batchSize)
		if err != nil {
			w.logger.Error().Err(err).Msg("fetch pending notification tasks")
			w.sleep(ctx)
			continue
		}
		if len(tasks) == 0 {
			w.sleep(ctx)
			continue
		}

		for i := range tasks {
			w.processTask(ctx, &tasks[i])
		}
	}
}

func (w *OutboxWorker) sleep(ctx context.Context) {
	t := time.NewTimer(w.pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (w *OutboxWorker) tryLocalQueue() (models.NotificationTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.NotificationTask{}, false
	}
}

func (w *OutboxWorker) tryRedis(ctx context.Context) (models.NotificationTask, bool) {
	if w.redis == nil {
		return models.NotificationTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, redis.Nil) {
			return models.NotificationTask{}, false
		}
		w.logger.Error().Err(err).Msg("redis BRPOP error")
		return models.NotificationTask{}, false
	}
	if len(res) != 2 {
		return models.NotificationTask{}, false
	}
	var task models.NotificationTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("decode redis task")
		return models.NotificationTask{}, false
	}
	return task, true
}

func (w *OutboxWorker) processTask(ctx context.Context, task *models.NotificationTask) {
	// одна задача может прийти из канала, Redis и опроса БД
	claimed, err := w.db.ClaimNotificationTask(ctx, task.ID)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("claim notification task")
		return
	}
	if !claimed {
		w.logger.Debug().Int64("task_id", task.ID).Msg("task already taken, skipping")
		return
	}
	if fresh, err := w.db.GetNotificationTask(ctx, task.ID); err == nil {
		*task = *fresh
	}

	payload, err := decodePayload(task.Payload)
	if err != nil {
		w.failTask(ctx, task, fmt.Errorf("decode payload: %w", err))
		return
	}

	if err := w.handleTask(ctx, task.TaskType, payload.Booking); err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}

	if err := w.db.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskStatusCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark completed")
	}
}

// handleTask delivers every message of the task. A failing recipient or
// ledger write fails the whole task so that it is retried.
func (w *OutboxWorker) handleTask(ctx context.Context, event string, b *models.Booking) error {
	var errs []error

	text := notify.Message(event, b)
	for _, id := range notify.Recipients(event, b) {
		recipient, err := w.users.GetUserByID(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("load recipient %d: %w", id, err))
			continue
		}
		for _, n := range w.notifiers {
			if err := n.Notify(ctx, recipient, text); err != nil {
				metrics.IncNotification(n.Channel(), "error")
				errs = append(errs, fmt.Errorf("%s: %w", n.Channel(), err))
				continue
			}
			metrics.IncNotification(n.Channel(), "ok")
		}
	}

	if w.ledger != nil {
		if err := w.writeLedger(ctx, event, b); err != nil {
			metrics.IncNotification("ledger", "error")
			errs = append(errs, fmt.Errorf("ledger: %w", err))
		} else {
			metrics.IncNotification("ledger", "ok")
		}
	}

	return errors.Join(errs...)
}

func (w *OutboxWorker) writeLedger(ctx context.Context, event string, b *models.Booking) error {
	switch event {
	case events.EventBookingCreated, events.EventBookingRescheduled, events.EventBookingRated:
		return w.ledger.UpsertBooking(ctx, b)
	case events.EventBookingDeleted:
		return w.ledger.UpdateBookingStatus(ctx, b.ID, "deleted")
	default:
		return w.ledger.UpdateBookingStatus(ctx, b.ID, b.Status)
	}
}

func (w *OutboxWorker) retryOrFail(ctx context.Context, task *models.NotificationTask, cause error) {
	attempt := task.RetryCount + 1
	if attempt >= w.retryPolicy.MaxRetries {
		w.failTask(ctx, task, cause)
		return
	}

	nextTime := time.Now().UTC().Add(w.retryPolicy.NextDelay(attempt))
	w.logger.Warn().Err(cause).Int64("task_id", task.ID).Int("attempt", attempt).Time("next_retry_at", nextTime).Msg("notification task will be retried")
	if err := w.db.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskStatusRetry, cause.Error(), &nextTime); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark retry")
	}
}

func (w *OutboxWorker) failTask(ctx context.Context, task *models.NotificationTask, cause error) {
	w.logger.Error().Err(cause).Int64("task_id", task.ID).Str("task_type", task.TaskType).Msg("notification task failed")
	if err := w.db.UpdateNotificationTaskStatus(ctx, task.ID, models.TaskStatusFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark failed")
	}
	w.pushDeadLetter(ctx, task)
}

func decodePayload(raw string) (taskPayload, error) {
	var payload taskPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return payload, err
	}
	if payload.Booking == nil {
		return payload, errors.New("booking payload missing")
	}
	return payload, nil
}

func (w *OutboxWorker) pushRedis(ctx context.Context, task models.NotificationTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, w.redisQueueKey, data).Err()
}

func (w *OutboxWorker) pushDeadLetter(ctx context.Context, task *models.NotificationTask) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("encode deadletter")
		return
	}
	if err := w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("deadletter push")
	}
}
