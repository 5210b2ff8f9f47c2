package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	Username  string    `gorm:"uniqueIndex;not null" json:"username"`
	Phone     *string   `gorm:"uniqueIndex" json:"phone"`
	Password  string    `gorm:"not null" json:"-"`
	PushToken *string   `gorm:"column:fcm_token;size:500" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AccessToken is a bearer token issued at login. Only the HMAC of the
// secret part is stored.
type AccessToken struct {
	ID         uint   `gorm:"primaryKey"`
	UserID     uint   `gorm:"not null;index"`
	Name       string `gorm:"not null"`
	TokenHash  string `gorm:"uniqueIndex;not null"`
	LastUsedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type ConversationType string

const (
	ConversationPrivate ConversationType = "private"
	ConversationGroup   ConversationType = "group"
)

func (t ConversationType) Valid() bool {
	return t == ConversationPrivate || t == ConversationGroup
}

type Conversation struct {
	ID        uint             `gorm:"primaryKey" json:"id"`
	Title     *string          `json:"title"`
	Type      ConversationType `gorm:"type:varchar(16);not null;default:private;index" json:"type"`
	CreatedBy uint             `gorm:"index" json:"created_by"`
	// PairKey is "{low}:{high}" for private conversations and NULL for groups.
	PairKey       *string        `gorm:"uniqueIndex" json:"-"`
	LastMessageAt *time.Time     `gorm:"index" json:"last_message_at"`
	CreatedAt     time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`

	Participants  []Participant `gorm:"foreignKey:ConversationID" json:"-"`
	LatestMessage *Message      `gorm:"-" json:"-"`
}

// Participant is a row of the conversation_user join table.
type Participant struct {
	ConversationID uint       `gorm:"primaryKey;autoIncrement:false" json:"conversation_id"`
	UserID         uint       `gorm:"primaryKey;autoIncrement:false;index" json:"user_id"`
	ReadAt         *time.Time `gorm:"index" json:"read_at"`
	JoinedAt       time.Time  `gorm:"not null" json:"joined_at"`
	CreatedAt      time.Time  `json:"-"`
	UpdatedAt      time.Time  `json:"-"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (Participant) TableName() string { return "conversation_user" }

// HasParticipant reports whether userID is in the loaded participant list.
func (c *Conversation) HasParticipant(userID uint) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

func (c *Conversation) ParticipantIDs() []uint {
	ids := make([]uint, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageVoice MessageType = "voice"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
)

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageVoice, MessageImage, MessageFile:
		return true
	}
	return false
}

type Message struct {
	ID                uint              `gorm:"primaryKey" json:"id"`
	ConversationID    uint              `gorm:"not null;index:idx_messages_conversation_created,priority:1" json:"conversation_id"`
	UserID            uint              `gorm:"not null;index" json:"user_id"`
	Body              string            `gorm:"type:text" json:"body"`
	Type              MessageType       `gorm:"type:varchar(16);not null;default:text;index" json:"type"`
	VoiceNotePath     *string           `gorm:"index" json:"voice_note_path"`
	VoiceNoteDuration *int              `json:"voice_note_duration"`
	Metadata          datatypes.JSONMap `json:"metadata"`
	IsEdited          bool              `gorm:"not null;default:false" json:"is_edited"`
	EditedAt          *time.Time        `json:"edited_at"`
	CreatedAt         time.Time         `gorm:"index:idx_messages_conversation_created,priority:2" json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	DeletedAt         gorm.DeletedAt    `gorm:"index" json:"-"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (m *Message) IsVoiceNote() bool {
	return m.Type == MessageVoice && m.VoiceNotePath != nil && *m.VoiceNotePath != ""
}

func (m Message) MarshalJSON() ([]byte, error) {
	type alias Message
	return json.Marshal(struct {
		alias
		IsVoiceNote bool `json:"is_voice_note"`
	}{alias(m), m.IsVoiceNote()})
}

// ReadCursor is one participant's read position in a conversation.
type ReadCursor struct {
	UserID uint       `json:"user_id"`
	ReadAt *time.Time `json:"read_at"`
}
