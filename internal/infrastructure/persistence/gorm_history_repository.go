package persistence

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/repository"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/session"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/infrastructure/persistence/models"
	domainErrors "github.com/ylsdamxssjxxdd/wunder-sub003/pkg/errors"
)

// GormHistoryRepository is the GORM-backed repository.HistoryStore,
// generalized from GormMessageRepository's single conversation-scoped
// save/find/delete shape to the spec's user+session-scoped
// append/load/replace contract plus the parallel tool-invocation log the
// teacher's MessageRepository has no equivalent of.
type GormHistoryRepository struct {
	db *gorm.DB
}

func NewGormHistoryRepository(db *gorm.DB) repository.HistoryStore {
	return &GormHistoryRepository{db: db}
}

func (r *GormHistoryRepository) AppendChat(ctx context.Context, userID, sessionID string, msg session.Message) error {
	var maxSeq int
	if err := r.db.WithContext(ctx).Model(&models.ChatMessageModel{}).
		Where("session_id = ?", sessionID).
		Select("COALESCE(MAX(sequence), -1)").Scan(&maxSeq).Error; err != nil {
		return domainErrors.NewInternalError("failed to read chat sequence: " + err.Error())
	}

	model, err := toChatModel(userID, sessionID, maxSeq+1, msg)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return domainErrors.NewInternalError("failed to append chat message: " + err.Error())
	}
	return nil
}

func (r *GormHistoryRepository) LoadHistory(ctx context.Context, userID, sessionID string, limit int) ([]session.Message, error) {
	q := r.db.WithContext(ctx).
		Where("user_id = ? AND session_id = ?", userID, sessionID).
		Order("sequence asc")

	var rows []models.ChatMessageModel
	if limit > 0 {
		var total int64
		if err := r.db.WithContext(ctx).Model(&models.ChatMessageModel{}).
			Where("user_id = ? AND session_id = ?", userID, sessionID).Count(&total).Error; err != nil {
			return nil, domainErrors.NewInternalError("failed to count chat history: " + err.Error())
		}
		offset := int(total) - limit
		if offset > 0 {
			q = q.Offset(offset)
		}
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, domainErrors.NewInternalError("failed to load chat history: " + err.Error())
	}

	out := make([]session.Message, 0, len(rows))
	for _, row := range rows {
		msg, err := toSessionMessage(row)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func (r *GormHistoryRepository) ReplaceHistory(ctx context.Context, userID, sessionID string, messages []session.Message) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", sessionID).Delete(&models.ChatMessageModel{}).Error; err != nil {
			return domainErrors.NewInternalError("failed to clear chat history: " + err.Error())
		}
		for i, msg := range messages {
			model, err := toChatModel(userID, sessionID, i, msg)
			if err != nil {
				return err
			}
			if err := tx.Create(model).Error; err != nil {
				return domainErrors.NewInternalError("failed to rewrite chat history: " + err.Error())
			}
		}
		return nil
	})
}

func (r *GormHistoryRepository) AppendToolLog(ctx context.Context, sessionID string, call session.ToolCall, result session.ToolResultPayload) error {
	argsJSON, err := json.Marshal(call.Arguments)
	if err != nil {
		return domainErrors.NewInternalError("failed to marshal tool log arguments: " + err.Error())
	}
	metaJSON, err := json.Marshal(result.Meta)
	if err != nil {
		return domainErrors.NewInternalError("failed to marshal tool log metadata: " + err.Error())
	}
	dataJSON, err := json.Marshal(result.Data)
	if err != nil {
		return domainErrors.NewInternalError("failed to marshal tool log result: " + err.Error())
	}

	ts := result.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	row := &models.ToolLogModel{
		SessionID: sessionID, ToolCallID: call.ID, ToolName: call.Name,
		Arguments: string(argsJSON), OK: result.OK, ResultData: string(dataJSON),
		ResultError: result.Error, ResultMeta: string(metaJSON), Timestamp: ts,
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return domainErrors.NewInternalError("failed to append tool log: " + err.Error())
	}
	return nil
}

func toChatModel(userID, sessionID string, seq int, msg session.Message) (*models.ChatMessageModel, error) {
	callsJSON, err := json.Marshal(msg.ToolCalls)
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to marshal tool calls: " + err.Error())
	}
	return &models.ChatMessageModel{
		UserID: userID, SessionID: sessionID, Sequence: seq,
		Role: string(msg.Role), Content: msg.Content, ReasoningContent: msg.ReasoningContent,
		ToolCalls: string(callsJSON), ToolCallID: msg.ToolCallID, CreatedAt: time.Now(),
	}, nil
}

func toSessionMessage(row models.ChatMessageModel) (session.Message, error) {
	var calls []session.ToolCallRef
	if row.ToolCalls != "" && row.ToolCalls != "null" {
		if err := json.Unmarshal([]byte(row.ToolCalls), &calls); err != nil {
			return session.Message{}, domainErrors.NewInternalError("failed to unmarshal tool calls: " + err.Error())
		}
	}
	return session.Message{
		Role: session.Role(row.Role), Content: row.Content, ReasoningContent: row.ReasoningContent,
		ToolCalls: calls, ToolCallID: row.ToolCallID,
	}, nil
}
