package models

import "gorm.io/gorm"

// SubscriptionPlan defines quota limits shared by its subscribers.
type SubscriptionPlan struct {
	BaseModel

	// Name is the plan identifier (free, pro, ...).
	Name string `gorm:"uniqueIndex;not null;size:100" json:"name"`

	// RecordingsPerMonth caps pipeline admissions per calendar month.
	RecordingsPerMonth int `gorm:"default:0" json:"recordings_per_month"`

	// ConcurrentTasks caps in-flight tasks owned by one user.
	ConcurrentTasks int `gorm:"default:0" json:"concurrent_tasks"`

	// StorageBytes caps artifact storage per user. Zero means unlimited.
	StorageBytes int64 `gorm:"default:0" json:"storage_bytes"`

	// IsDefault marks the plan assigned to users without a subscription.
	IsDefault bool `gorm:"default:false" json:"is_default"`
}

// TableName returns the table name for SubscriptionPlan.
func (SubscriptionPlan) TableName() string {
	return "subscription_plans"
}

// Validate performs basic validation on the plan.
func (p *SubscriptionPlan) Validate() error {
	if p.Name == "" {
		return ErrNameRequired
	}
	return nil
}

// BeforeCreate validates the plan and generates the ULID.
func (p *SubscriptionPlan) BeforeCreate(tx *gorm.DB) error {
	if err := p.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return p.Validate()
}

// UserSubscription binds a user to a plan, optionally overriding its
// limits for that user alone.
type UserSubscription struct {
	BaseModel

	// UserID is the subscriber; one subscription per user.
	UserID ULID `gorm:"type:varchar(26);uniqueIndex;not null" json:"user_id"`

	// PlanID is the subscribed plan.
	PlanID ULID              `gorm:"type:varchar(26);not null" json:"plan_id"`
	Plan   *SubscriptionPlan `gorm:"foreignKey:PlanID" json:"plan,omitempty"`

	// Custom limits override the plan when set.
	CustomRecordingsPerMonth *int   `json:"custom_recordings_per_month,omitempty"`
	CustomConcurrentTasks    *int   `json:"custom_concurrent_tasks,omitempty"`
	CustomStorageBytes       *int64 `json:"custom_storage_bytes,omitempty"`

	// ExpiresAt ends the subscription; nil means open-ended.
	ExpiresAt *Time `json:"expires_at,omitempty"`
}

// TableName returns the table name for UserSubscription.
func (UserSubscription) TableName() string {
	return "user_subscriptions"
}

// EffectiveRecordingsPerMonth returns the user's monthly admission limit.
func (s *UserSubscription) EffectiveRecordingsPerMonth() int {
	if s.CustomRecordingsPerMonth != nil {
		return *s.CustomRecordingsPerMonth
	}
	if s.Plan != nil {
		return s.Plan.RecordingsPerMonth
	}
	return 0
}

// EffectiveConcurrentTasks returns the user's in-flight task limit.
func (s *UserSubscription) EffectiveConcurrentTasks() int {
	if s.CustomConcurrentTasks != nil {
		return *s.CustomConcurrentTasks
	}
	if s.Plan != nil {
		return s.Plan.ConcurrentTasks
	}
	return 0
}

// EffectiveStorageBytes returns the user's storage cap.
func (s *UserSubscription) EffectiveStorageBytes() int64 {
	if s.CustomStorageBytes != nil {
		return *s.CustomStorageBytes
	}
	if s.Plan != nil {
		return s.Plan.StorageBytes
	}
	return 0
}

// QuotaUsage is the per-user, per-period usage row. Period is YYYYMM.
type QuotaUsage struct {
	BaseModel

	// UserID is the owning tenant.
	UserID ULID `gorm:"type:varchar(26);not null;uniqueIndex:idx_quota_user_period" json:"user_id"`

	// Period is the calendar month in YYYYMM form.
	Period string `gorm:"not null;size:6;uniqueIndex:idx_quota_user_period" json:"period"`

	// RecordingsCount counts admitted pipelines this period.
	RecordingsCount int `gorm:"default:0" json:"recordings_count"`

	// StorageBytes tracks artifact bytes attributed to the user.
	StorageBytes int64 `gorm:"default:0" json:"storage_bytes"`

	// ConcurrentTasksCount is an advisory snapshot taken at the last
	// admission check; the live check counts task rows.
	ConcurrentTasksCount int `gorm:"default:0" json:"concurrent_tasks_count"`

	// Overage counters record rejected admissions for visibility.
	RecordingsOverageCount int `gorm:"default:0" json:"recordings_overage_count"`
	TasksOverageCount      int `gorm:"default:0" json:"tasks_overage_count"`
}

// TableName returns the table name for QuotaUsage.
func (QuotaUsage) TableName() string {
	return "quota_usage"
}

// Validate performs basic validation on the usage row.
func (q *QuotaUsage) Validate() error {
	if q.UserID.IsZero() {
		return ErrUserIDRequired
	}
	if len(q.Period) != 6 {
		return ErrPeriodRequired
	}
	return nil
}

// BeforeCreate validates the usage row and generates the ULID.
func (q *QuotaUsage) BeforeCreate(tx *gorm.DB) error {
	if err := q.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return q.Validate()
}

// QuotaPeriod formats t as a YYYYMM period key.
func QuotaPeriod(t Time) string {
	return t.Format("200601")
}
