package model

import "time"

// PushSubscription holds the information for a browser push subscription.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`

	Lockers []SubscriptionLocker `gorm:"foreignKey:PushSubscriptionEndpoint;references:Endpoint;constraint:OnDelete:CASCADE"`
}

// SubscriptionLocker maps a subscription to one locker it wants alerts for.
// Lockers may live in another backend, so the id is not a foreign key.
type SubscriptionLocker struct {
	PushSubscriptionEndpoint string `gorm:"primaryKey"`
	LockerID                 int64  `gorm:"primaryKey;index"`
}

func (SubscriptionLocker) TableName() string { return "subscription_locker_mapping" }
