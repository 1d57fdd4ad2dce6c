package storage

import (
	"time"

	"gorm.io/gorm"
)

// AppState stores application state for checkpointing
type AppState struct {
	StateKey   string `gorm:"primaryKey;size:64"`
	StateValue string `gorm:"type:text;not null"`
	UpdatedTS  int64  `gorm:"not null;index"`
}

func (AppState) TableName() string {
	return "app_state"
}

// TicketPurchase is one TicketPurchased event, deduplicated on (tx_hash, ticket_id)
type TicketPurchase struct {
	TxHash        string `gorm:"primaryKey;size:66"`
	TicketID      uint64 `gorm:"primaryKey;autoIncrement:false"`
	RoundID       uint64 `gorm:"not null;index"`
	PlayerAddress string `gorm:"size:42;not null;index"`
	BlockNumber   uint64 `gorm:"not null;index"`
	TimestampSec  int64  `gorm:"not null"`
	AmountPaidWei string `gorm:"size:78"`
	CreatedTS     int64  `gorm:"not null"`
}

func (TicketPurchase) TableName() string {
	return "ticket_purchases"
}

// RoundRecord keeps the last observed state of every round
type RoundRecord struct {
	RoundID                uint64 `gorm:"primaryKey;autoIncrement:false"`
	Phase                  string `gorm:"size:32;not null;index"`
	StartTime              int64  `gorm:"default:0"`
	StartSnapshotSubmitted bool   `gorm:"not null;default:false"`
	EndSnapshotSubmitted   bool   `gorm:"not null;default:false"`
	ResultsEvaluated       bool   `gorm:"not null;default:false"`
	Aborted                bool   `gorm:"not null;default:false"`
	HighestScore           *int
	ActualOutcomes         string `gorm:"size:16"`
	TicketCount            int    `gorm:"not null;default:0"`
	FirstSeenTS            int64  `gorm:"not null;index"`
	UpdatedTS              int64  `gorm:"not null"`
}

func (RoundRecord) TableName() string {
	return "rounds"
}

// BeforeCreate hook for timestamps
func (a *AppState) BeforeCreate(tx *gorm.DB) error {
	if a.UpdatedTS == 0 {
		a.UpdatedTS = time.Now().Unix()
	}
	return nil
}

func (t *TicketPurchase) BeforeCreate(tx *gorm.DB) error {
	if t.CreatedTS == 0 {
		t.CreatedTS = time.Now().Unix()
	}
	return nil
}

func (r *RoundRecord) BeforeCreate(tx *gorm.DB) error {
	now := time.Now().Unix()
	if r.FirstSeenTS == 0 {
		r.FirstSeenTS = now
	}
	if r.UpdatedTS == 0 {
		r.UpdatedTS = now
	}
	return nil
}
