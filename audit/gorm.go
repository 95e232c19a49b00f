package audit

import (
	"context"

	"github.com/yourusername/gpay-checkout/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// GormSink writes events to the audit_events table.
type GormSink struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewGormSink(db *gorm.DB, logger *zap.Logger) *GormSink {
	return &GormSink{db: db, logger: logger}
}

func (s *GormSink) Record(ctx context.Context, e Event) {
	row := models.AuditEvent{
		Type:          string(e.Type),
		TransactionID: e.TransactionID,
		OrderID:       e.OrderID,
		Reference:     e.Reference,
		Gateway:       e.Gateway,
		FromStatus:    e.From,
		ToStatus:      e.To,
		Detail:        e.Detail,
		OccurredAt:    e.OccurredAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		s.logger.Error("failed to persist audit event",
			zap.String("type", string(e.Type)),
			zap.String("reference", e.Reference),
			zap.Error(err),
		)
	}
}
