package notification

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"locker-status-backend/internal/model"
)

// SubscriptionsFor returns the subscriptions that follow lockerID.
func SubscriptionsFor(ctx context.Context, db *gorm.DB, lockerID int64) ([]model.PushSubscription, error) {
	var subscriptions []model.PushSubscription
	err := db.WithContext(ctx).
		Joins("JOIN subscription_locker_mapping slm ON slm.push_subscription_endpoint = push_subscriptions.endpoint").
		Where("slm.locker_id = ?", lockerID).
		Find(&subscriptions).Error
	return subscriptions, err
}

// SaveSubscription creates or refreshes sub and replaces the lockers it follows.
func SaveSubscription(ctx context.Context, db *gorm.DB, sub model.PushSubscription, lockerIDs []int64) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "endpoint"}},
			DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
		}).Omit("Lockers").Create(&sub).Error; err != nil {
			return err
		}
		if err := tx.Where("push_subscription_endpoint = ?", sub.Endpoint).
			Delete(&model.SubscriptionLocker{}).Error; err != nil {
			return err
		}
		if len(lockerIDs) == 0 {
			return nil
		}
		seen := make(map[int64]bool, len(lockerIDs))
		rows := make([]model.SubscriptionLocker, 0, len(lockerIDs))
		for _, id := range lockerIDs {
			if id <= 0 || seen[id] {
				continue
			}
			seen[id] = true
			rows = append(rows, model.SubscriptionLocker{PushSubscriptionEndpoint: sub.Endpoint, LockerID: id})
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
}

// LockersFor returns the locker ids endpoint follows. It returns
// gorm.ErrRecordNotFound for an unknown endpoint.
func LockersFor(ctx context.Context, db *gorm.DB, endpoint string) ([]int64, error) {
	var sub model.PushSubscription
	if err := db.WithContext(ctx).Preload("Lockers").First(&sub, "endpoint = ?", endpoint).Error; err != nil {
		return nil, err
	}
	ids := make([]int64, len(sub.Lockers))
	for i, l := range sub.Lockers {
		ids[i] = l.LockerID
	}
	return ids, nil
}

// DeleteSubscription removes endpoint and its locker mappings.
func DeleteSubscription(ctx context.Context, db *gorm.DB, endpoint string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("push_subscription_endpoint = ?", endpoint).
			Delete(&model.SubscriptionLocker{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.PushSubscription{Endpoint: endpoint}).Error
	})
}
