// Package store persists conversations, questions and answers through GORM.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yann6182/Projet-chat-back/internal/models"
	"github.com/yann6182/Projet-chat-back/internal/rag/schema"
	"github.com/yann6182/Projet-chat-back/pkg/logger"
)

// ErrConversationNotFound is returned when a turn targets a conversation
// UUID that has no row.
var ErrConversationNotFound = errors.New("conversation not found")

// SaveMode selects how SaveTurn resolves the conversation row.
type SaveMode int

const (
	// AutoCreate inserts the conversation row when it does not exist yet.
	AutoCreate SaveMode = iota
	// ContinueExisting requires the row to exist already.
	ContinueExisting
)

// Turn is the unit SaveTurn writes: one question and its answer with
// retrieval provenance.
type Turn struct {
	ConversationUUID string
	UserID           string
	Category         string
	Title            string
	Question         string
	Answer           string
	Sources          []string
	Excerpts         []schema.Excerpt
}

// Store wraps the GORM handle with the conversation persistence operations.
type Store struct {
	db  *gorm.DB
	log *logger.Logger
}

// New wraps an open GORM handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db, log: logger.New("chat_store")}
}

// AutoMigrate creates or updates the three tables.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&models.Conversation{}, &models.Question{}, &models.Response{})
}

// SaveTurn writes the question, the answer and, in AutoCreate mode, the
// conversation row itself inside one transaction. In ContinueExisting mode
// a missing conversation aborts with ErrConversationNotFound.
func (s *Store) SaveTurn(ctx context.Context, mode SaveMode, t Turn) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv models.Conversation
		err := tx.Where("uuid = ?", t.ConversationUUID).First(&conv).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if mode == ContinueExisting {
				return fmt.Errorf("%w: %s", ErrConversationNotFound, t.ConversationUUID)
			}
			conv = models.Conversation{
				UUID:     t.ConversationUUID,
				UserID:   t.UserID,
				Category: t.Category,
				Title:    t.Title,
			}
			if err := tx.Create(&conv).Error; err != nil {
				return fmt.Errorf("creating conversation: %w", err)
			}
		case err != nil:
			return fmt.Errorf("loading conversation: %w", err)
		}

		question := models.Question{
			ConversationID: conv.ID,
			Content:        t.Question,
		}
		if err := tx.Create(&question).Error; err != nil {
			return fmt.Errorf("saving question: %w", err)
		}

		sources, err := json.Marshal(t.Sources)
		if err != nil {
			return fmt.Errorf("encoding sources: %w", err)
		}
		excerpts, err := json.Marshal(t.Excerpts)
		if err != nil {
			return fmt.Errorf("encoding excerpts: %w", err)
		}
		response := models.Response{
			ConversationID: conv.ID,
			QuestionID:     question.ID,
			Content:        t.Answer,
			Sources:        datatypes.JSON(sources),
			Excerpts:       datatypes.JSON(excerpts),
		}
		if err := tx.Create(&response).Error; err != nil {
			return fmt.Errorf("saving response: %w", err)
		}

		// Bump UpdatedAt so conversation listings sort by activity.
		return tx.Model(&conv).Update("updated_at", time.Now()).Error
	})
}

// History returns the full turn sequence of a conversation in chronological
// order, questions and answers interleaved.
func (s *Store) History(ctx context.Context, conversationUUID string) ([]schema.Turn, error) {
	var conv models.Conversation
	err := s.db.WithContext(ctx).Where("uuid = ?", conversationUUID).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, conversationUUID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}

	var questions []models.Question
	if err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conv.ID).
		Order("id").
		Find(&questions).Error; err != nil {
		return nil, fmt.Errorf("loading questions: %w", err)
	}
	var responses []models.Response
	if err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conv.ID).
		Order("id").
		Find(&responses).Error; err != nil {
		return nil, fmt.Errorf("loading responses: %w", err)
	}

	byQuestion := make(map[uint]models.Response, len(responses))
	for _, r := range responses {
		byQuestion[r.QuestionID] = r
	}

	turns := make([]schema.Turn, 0, len(questions)*2)
	for _, q := range questions {
		turns = append(turns, schema.Turn{
			Role:      schema.RoleUser,
			Message:   q.Content,
			Timestamp: q.CreatedAt,
		})
		r, ok := byQuestion[q.ID]
		if !ok {
			continue
		}
		turn := schema.Turn{
			Role:      schema.RoleAssistant,
			Message:   r.Content,
			Timestamp: r.CreatedAt,
		}
		if len(r.Sources) > 0 {
			if err := json.Unmarshal(r.Sources, &turn.Sources); err != nil {
				s.log.WithConversation(conversationUUID).Warn(fmt.Sprintf("corrupt sources column on response %d: %v", r.ID, err))
			}
		}
		if len(r.Excerpts) > 0 {
			if err := json.Unmarshal(r.Excerpts, &turn.Excerpts); err != nil {
				s.log.WithConversation(conversationUUID).Warn(fmt.Sprintf("corrupt excerpts column on response %d: %v", r.ID, err))
			}
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// Touch bumps a conversation's activity timestamp without writing a turn.
func (s *Store) Touch(ctx context.Context, conversationUUID string) error {
	res := s.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("uuid = ?", conversationUUID).
		Update("updated_at", time.Now())
	if res.Error != nil {
		return fmt.Errorf("touching conversation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, conversationUUID)
	}
	return nil
}

// UpdateMetadata sets the title and category of a conversation. Empty
// values leave the column untouched.
func (s *Store) UpdateMetadata(ctx context.Context, conversationUUID, title, category string) error {
	updates := map[string]interface{}{}
	if title != "" {
		updates["title"] = title
	}
	if category != "" {
		updates["category"] = category
	}
	if len(updates) == 0 {
		return nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("uuid = ?", conversationUUID).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("updating conversation metadata: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, conversationUUID)
	}
	return nil
}

// Conversations lists a user's conversations, most recently active first.
func (s *Store) Conversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	var out []models.Conversation
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	return out, nil
}

// Exists reports whether a conversation row is present.
func (s *Store) Exists(ctx context.Context, conversationUUID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("uuid = ?", conversationUUID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("checking conversation: %w", err)
	}
	return count > 0, nil
}
