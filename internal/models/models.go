// Package models defines the relational schema of the conversation history.
package models

import (
	"time"

	"gorm.io/datatypes"
)

// Conversation is one user dialogue thread. The UUID is the public
// identifier handed to clients; the numeric ID stays internal.
type Conversation struct {
	ID        uint   `gorm:"primaryKey"`
	UUID      string `gorm:"uniqueIndex;size:36;not null"`
	UserID    string `gorm:"index;size:64"`
	Category  string `gorm:"size:64"`  // legal topic bucket, e.g. "statuts"
	Title     string `gorm:"size:255"` // short display title
	CreatedAt time.Time
	UpdatedAt time.Time

	Questions []Question `gorm:"foreignKey:ConversationID"`
	Responses []Response `gorm:"foreignKey:ConversationID"`
}

// Question is one user message inside a conversation.
type Question struct {
	ID             uint   `gorm:"primaryKey"`
	ConversationID uint   `gorm:"index;not null"`
	Content        string `gorm:"type:text;not null"`
	CreatedAt      time.Time
}

// Response is the assistant answer paired with a question, with the
// retrieval provenance stored as JSON columns.
type Response struct {
	ID             uint   `gorm:"primaryKey"`
	ConversationID uint   `gorm:"index;not null"`
	QuestionID     uint   `gorm:"index;not null"`
	Content        string `gorm:"type:text;not null"`
	Sources        datatypes.JSON
	Excerpts       datatypes.JSON
	CreatedAt      time.Time
}

func (Conversation) TableName() string {
	return "conversations"
}

func (Question) TableName() string {
	return "questions"
}

func (Response) TableName() string {
	return "responses"
}
