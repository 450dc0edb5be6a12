// Package domain defines the persistence models for rooms, users, and
// messages. These types are mapped with GORM and form the core data layer
// of the messaging service.
package domain

import (
	"time"
)

// Room represents a named channel grouping members and messages. Rooms are
// addressed by a human-readable slug that is distinct from the store-assigned
// primary key and never reused.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Slug: immutable, globally-unique human identifier (e.g. "general").
//   - Title / Description: display metadata.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type Room struct {
	ID          string    `json:"id"          gorm:"type:char(36);primaryKey"`
	Slug        string    `json:"slug"        gorm:"type:varchar(64);not null;uniqueIndex:ux_room_slug"`
	Title       string    `json:"title"       gorm:"type:varchar(255);not null"`
	Description string    `json:"description" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for Room.
func (Room) TableName() string { return "rooms" }

// User is a member identity as consumed by the messaging core: a display
// name and an optional registered push-notification device token. Account
// lifecycle (registration, verification) is owned elsewhere.
type User struct {
	ID        string    `json:"id"         gorm:"type:varchar(64);primaryKey"`
	Name      string    `json:"name"       gorm:"type:varchar(255);not null"`
	PushToken string    `json:"-"          gorm:"type:varchar(255)"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// RoomMember links a user to a room. The (room_id, user_id) pair is unique,
// which is what makes join idempotent at the store level; CreatedAt preserves
// insertion order for member listings.
type RoomMember struct {
	ID        string    `json:"id"      gorm:"type:char(36);primaryKey"`
	RoomID    string    `json:"room_id" gorm:"type:char(36);not null;uniqueIndex:ux_room_member,priority:1"`
	UserID    string    `json:"user_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_room_member,priority:2;index"`
	CreatedAt time.Time `json:"created_at"`

	// Room is the joined channel. Memberships are cascade-deleted with it.
	Room Room `json:"-" gorm:"foreignKey:RoomID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	// User is the joined identity.
	User User `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for RoomMember.
func (RoomMember) TableName() string { return "room_members" }

// Message is a single chat message within a room. Messages are immutable
// once written; at least one of Text and AttachmentURL is always present
// (enforced before persistence, never by the store).
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - RoomID: owning room (indexed together with CreatedAt for history reads).
//   - SenderID: authoring user; display data is joined at read time, never
//     denormalized into the row.
//   - Text: optional message body.
//   - AttachmentURL: optional public URL of an uploaded image.
//   - CreatedAt: store-assigned wall-clock timestamp; history ordering key.
type Message struct {
	ID            string    `json:"id"             gorm:"type:char(36);primaryKey"`
	RoomID        string    `json:"room_id"        gorm:"type:char(36);not null;index:idx_room_msgs,priority:1"`
	SenderID      string    `json:"sender_id"      gorm:"type:varchar(64);not null;index"`
	Text          string    `json:"text"           gorm:"type:text"`
	AttachmentURL string    `json:"attachment_url,omitempty" gorm:"type:varchar(512)"`
	CreatedAt     time.Time `json:"created_at"     gorm:"index:idx_room_msgs,priority:2"`

	// Room is the owning channel. Messages are cascade-deleted with it.
	Room Room `json:"-" gorm:"foreignKey:RoomID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	// Sender is the authoring user.
	Sender User `json:"-" gorm:"foreignKey:SenderID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }
