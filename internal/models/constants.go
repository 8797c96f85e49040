package models

const (
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusRejected  = "rejected"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
)

const (
	PaymentPending  = "pending"
	PaymentPaid     = "paid"
	PaymentRefunded = "refunded"
	PaymentFailed   = "failed"
)

const (
	RoleClient  = "client"
	RoleTrainer = "trainer"
	RoleAdmin   = "admin"
)

const (
	SessionInPerson = "in-person"
	SessionVirtual  = "virtual"
	SessionHybrid   = "hybrid"
)

const (
	// DateLayout формат даты сессии
	DateLayout = "2006-01-02"
	// ClockLayout формат времени начала и конца сессии
	ClockLayout = "15:04"
)

const (
	DefaultDurationMinutes       = 60
	DefaultHourlyRate            = 50.0
	DefaultCurrency              = "USD"
	DefaultConflictBufferMinutes = 30
	DefaultSlotMinutes           = 60

	MinRating = 1
	MaxRating = 5

	// DefaultMaxBookingDays насколько далеко вперед можно бронировать
	DefaultMaxBookingDays = 180

	// DefaultIdempotencyTTL время жизни ключа идемпотентности в секундах
	DefaultIdempotencyTTL = 24 * 60 * 60

	// CreateQuotaRequests количество созданий бронирований в окне
	CreateQuotaRequests = 20

	// CreateQuotaWindow окно квоты в секундах
	CreateQuotaWindow = 60 * 60

	// WorkerQueueSize размер очереди воркера
	WorkerQueueSize = 1000

	// SheetsCacheTTL время жизни кэша строк Google Sheets
	SheetsCacheTTL = 60 * 60
)
