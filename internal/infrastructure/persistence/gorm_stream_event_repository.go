package persistence

import (
	"context"
	"encoding/json"
	"sync"

	"gorm.io/gorm"

	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/repository"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/session"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/infrastructure/persistence/models"
	domainErrors "github.com/ylsdamxssjxxdd/wunder-sub003/pkg/errors"
)

// GormStreamEventRepository is the GORM-backed repository.StreamEventStore.
// Grounded on GormMessageRepository's save/find shape, widened with a
// per-session mutex so AppendStreamEvent's read-max-then-insert sequence
// stays linearizable per session id (spec §4.8) even though GORM/sqlite
// give no portable SELECT ... FOR UPDATE across both supported drivers —
// infrastructure/eventbus/persistent_bus.go likewise serializes its WAL
// appends with an in-process mutex (one for the whole WAL) rather than a
// DB-level lock.
type GormStreamEventRepository struct {
	db *gorm.DB

	mu      sync.Mutex
	perSess map[string]*sync.Mutex
}

func NewGormStreamEventRepository(db *gorm.DB) repository.StreamEventStore {
	return &GormStreamEventRepository{db: db, perSess: make(map[string]*sync.Mutex)}
}

func (r *GormStreamEventRepository) sessionLock(sessionID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lk, ok := r.perSess[sessionID]
	if !ok {
		lk = &sync.Mutex{}
		r.perSess[sessionID] = lk
	}
	return lk
}

func (r *GormStreamEventRepository) AppendStreamEvent(ctx context.Context, sessionID string, event session.EventName, data map[string]any) (int64, error) {
	lk := r.sessionLock(sessionID)
	lk.Lock()
	defer lk.Unlock()

	dataJSON, err := json.Marshal(data)
	if err != nil {
		return 0, domainErrors.NewInternalError("failed to marshal stream event data: " + err.Error())
	}

	var maxID int64
	if err := r.db.WithContext(ctx).Model(&models.StreamEventModel{}).
		Where("session_id = ?", sessionID).
		Select("COALESCE(MAX(event_id), 0)").Scan(&maxID).Error; err != nil {
		return 0, domainErrors.NewInternalError("failed to read max stream event id: " + err.Error())
	}
	nextID := maxID + 1

	row := &models.StreamEventModel{SessionID: sessionID, EventID: nextID, Event: string(event), Data: string(dataJSON)}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return 0, domainErrors.NewInternalError("failed to append stream event: " + err.Error())
	}
	return nextID, nil
}

func (r *GormStreamEventRepository) LoadStreamEvents(ctx context.Context, sessionID string, afterID int64, limit int) ([]session.StreamEvent, error) {
	q := r.db.WithContext(ctx).
		Where("session_id = ? AND event_id > ?", sessionID, afterID).
		Order("event_id asc")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []models.StreamEventModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, domainErrors.NewInternalError("failed to load stream events: " + err.Error())
	}

	out := make([]session.StreamEvent, 0, len(rows))
	for _, row := range rows {
		var data map[string]any
		if row.Data != "" && row.Data != "null" {
			if err := json.Unmarshal([]byte(row.Data), &data); err != nil {
				return nil, domainErrors.NewInternalError("failed to unmarshal stream event data: " + err.Error())
			}
		}
		out = append(out, session.StreamEvent{
			EventID: row.EventID, Event: session.EventName(row.Event), Data: data, Timestamp: row.CreatedAt,
		})
	}
	return out, nil
}

func (r *GormStreamEventRepository) MaxStreamEventID(ctx context.Context, sessionID string) (int64, error) {
	var maxID int64
	if err := r.db.WithContext(ctx).Model(&models.StreamEventModel{}).
		Where("session_id = ?", sessionID).
		Select("COALESCE(MAX(event_id), 0)").Scan(&maxID).Error; err != nil {
		return 0, domainErrors.NewInternalError("failed to read max stream event id: " + err.Error())
	}
	return maxID, nil
}

func (r *GormStreamEventRepository) DeleteStreamEventsBySession(ctx context.Context, sessionID string) error {
	lk := r.sessionLock(sessionID)
	lk.Lock()
	defer lk.Unlock()

	if err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&models.StreamEventModel{}).Error; err != nil {
		return domainErrors.NewInternalError("failed to purge stream events: " + err.Error())
	}
	return nil
}
