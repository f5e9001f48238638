package models

import (
	"time"
)

// Document is one JSON document in a named collection. UserID and Provider
// mirror the document's user_id and provider fields so owner lookups hit an
// index instead of decoding the collection.
type Document struct {
	ID         string    `gorm:"primaryKey;size:64" json:"id"`
	Collection string    `gorm:"size:100;index;index:idx_documents_owner,priority:1;not null" json:"collection"`
	UserID     string    `gorm:"size:64;index:idx_documents_owner,priority:2" json:"user_id"`
	Provider   string    `gorm:"size:32;index:idx_documents_owner,priority:3" json:"provider"`
	Data       string    `gorm:"type:text" json:"data"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (Document) TableName() string {
	return "documents"
}
