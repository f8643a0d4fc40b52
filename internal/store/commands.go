package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/monorkin/device-fleet-manager/internal/models"
)

// CommandFilter narrows ListCommands. Zero values match everything.
type CommandFilter struct {
	SerialNumber string
	Status       models.CommandStatus
}

// CreateCommands inserts cmds in one transaction, assigning IDs and the
// pending status where missing.
func (s *Store) CreateCommands(ctx context.Context, cmds []models.Command) error {
	if len(cmds) == 0 {
		return nil
	}

	for i := range cmds {
		if cmds[i].ID == "" {
			cmds[i].ID = uuid.NewString()
		}
		if cmds[i].Status == "" {
			cmds[i].Status = models.CommandPending
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&cmds).Error
	})
	return translate(err, "command")
}

func (s *Store) FindCommand(ctx context.Context, id string) (*models.Command, error) {
	var cmd models.Command
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&cmd).Error; err != nil {
		return nil, translate(err, fmt.Sprintf("command %q", id))
	}
	return &cmd, nil
}

// ListCommands returns matching commands, newest first.
func (s *Store) ListCommands(ctx context.Context, filter CommandFilter) ([]models.Command, error) {
	query := s.db.WithContext(ctx).Order("created_at DESC, rowid DESC")
	if filter.SerialNumber != "" {
		query = query.Where("serial_number = ?", filter.SerialNumber)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var cmds []models.Command
	if err := query.Find(&cmds).Error; err != nil {
		return nil, translate(err, "commands")
	}
	return cmds, nil
}

// PendingCommands returns the device's pending commands in creation order.
func (s *Store) PendingCommands(ctx context.Context, serial string) ([]models.Command, error) {
	var cmds []models.Command
	err := s.db.WithContext(ctx).
		Where("serial_number = ? AND status = ?", serial, models.CommandPending).
		Order("created_at, rowid").
		Find(&cmds).Error
	if err != nil {
		return nil, translate(err, "commands")
	}
	return cmds, nil
}

// CommandTransition moves a command from one status to another.
type CommandTransition struct {
	ID         string
	From       models.CommandStatus
	To         models.CommandStatus
	Result     *string
	ExecutedAt *time.Time
}

// TransitionCommand applies t only if the command is still in t.From and
// reports whether it did. Concurrent callers racing on the same command
// see exactly one true.
func (s *Store) TransitionCommand(ctx context.Context, t CommandTransition) (bool, error) {
	fields := map[string]any{"status": t.To}
	if t.Result != nil {
		fields["result"] = *t.Result
	}
	if t.ExecutedAt != nil {
		fields["executed_at"] = *t.ExecutedAt
	}

	result := s.db.WithContext(ctx).
		Model(&models.Command{}).
		Where("id = ? AND status = ?", t.ID, t.From).
		Updates(fields)
	if result.Error != nil {
		return false, translate(result.Error, fmt.Sprintf("command %q", t.ID))
	}

	return result.RowsAffected == 1, nil
}

// LatestCommand returns the device's most recently created command in the
// given status.
func (s *Store) LatestCommand(ctx context.Context, serial string, status models.CommandStatus) (*models.Command, error) {
	var cmd models.Command
	err := s.db.WithContext(ctx).
		Where("serial_number = ? AND status = ?", serial, status).
		Order("created_at DESC, rowid DESC").
		First(&cmd).Error
	if err != nil {
		return nil, translate(err, fmt.Sprintf("%s command for %q", status, serial))
	}
	return &cmd, nil
}

// CountCommands reports how many commands a device has in the given status.
func (s *Store) CountCommands(ctx context.Context, serial string, status models.CommandStatus) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Command{}).
		Where("serial_number = ? AND status = ?", serial, status).
		Count(&count).Error
	if err != nil {
		return 0, translate(err, "commands")
	}
	return count, nil
}
