package database

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/dslovacek55-hash/Reality/internal/models"
)

func (d *Database) CreateFilter(f *models.UserFilter) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	if err := d.db.Create(f).Error; err != nil {
		return fmt.Errorf("failed to create filter: %w", err)
	}
	return nil
}

func (d *Database) GetFilter(id int64) (*models.UserFilter, error) {
	var f models.UserFilter
	err := d.db.First(&f, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load filter: %w", err)
	}
	return &f, nil
}

func (d *Database) GetFiltersByChat(chatID int64) ([]models.UserFilter, error) {
	var filters []models.UserFilter
	if err := d.db.Where("chat_id = ?", chatID).Find(&filters).Error; err != nil {
		return nil, fmt.Errorf("failed to load filters: %w", err)
	}
	return filters, nil
}

// ActiveFilters returns every enabled subscription for notification matching.
func (d *Database) ActiveFilters() ([]models.UserFilter, error) {
	var filters []models.UserFilter
	if err := d.db.Where("active = ?", true).Find(&filters).Error; err != nil {
		return nil, fmt.Errorf("failed to load active filters: %w", err)
	}
	return filters, nil
}

// UpdateFilter overwrites every mutable column, so clearing a criterion or
// disabling the filter sticks.
func (d *Database) UpdateFilter(f *models.UserFilter) error {
	res := d.db.Model(&models.UserFilter{}).
		Where("id = ?", f.ID).
		Select("name", "property_type", "transaction_type", "city", "district",
			"disposition", "price_min", "price_max", "size_min", "size_max",
			"notify_new", "notify_price_drop", "price_drop_threshold", "active").
		Updates(f)
	if res.Error != nil {
		return fmt.Errorf("failed to update filter: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *Database) DeleteFilter(id int64) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_filter_id = ?", id).Delete(&models.Notification{}).Error; err != nil {
			return fmt.Errorf("failed to delete filter notifications: %w", err)
		}
		res := tx.Delete(&models.UserFilter{}, id)
		if res.Error != nil {
			return fmt.Errorf("failed to delete filter: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// AddFavorite is idempotent per (session, property).
func (d *Database) AddFavorite(sessionID string, propertyID int64) error {
	fav := models.Favorite{
		SessionID:  sessionID,
		PropertyID: propertyID,
		CreatedAt:  time.Now().UTC(),
	}
	err := d.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&fav).Error
	if err != nil {
		return fmt.Errorf("failed to add favorite: %w", err)
	}
	return nil
}

func (d *Database) RemoveFavorite(sessionID string, propertyID int64) error {
	err := d.db.
		Where("session_id = ? AND property_id = ?", sessionID, propertyID).
		Delete(&models.Favorite{}).Error
	if err != nil {
		return fmt.Errorf("failed to remove favorite: %w", err)
	}
	return nil
}

func (d *Database) GetFavorites(sessionID string) ([]models.Property, error) {
	var props []models.Property
	err := d.db.
		Joins("JOIN favorites ON favorites.property_id = properties.id").
		Where("favorites.session_id = ?", sessionID).
		Order("favorites.created_at DESC").
		Find(&props).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load favorites: %w", err)
	}
	return props, nil
}

// AlreadyNotified reports whether an alert for (filter, property, kind) was
// logged before. Used to suppress duplicate alerts for the same event.
func (d *Database) AlreadyNotified(filterID, propertyID int64, kind string) (bool, error) {
	var count int64
	err := d.db.Model(&models.Notification{}).
		Where("user_filter_id = ? AND property_id = ? AND kind = ?", filterID, propertyID, kind).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check notification log: %w", err)
	}
	return count > 0, nil
}

// RecordNotification logs a dispatched alert.
func (d *Database) RecordNotification(filterID, propertyID int64, kind string) error {
	n := models.Notification{
		UserFilterID: &filterID,
		PropertyID:   &propertyID,
		Kind:         kind,
		SentAt:       time.Now().UTC(),
	}
	if err := d.db.Create(&n).Error; err != nil {
		return fmt.Errorf("failed to record notification: %w", err)
	}
	return nil
}
