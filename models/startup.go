package models

// StartupMirror is a local snapshot of startup display data needed for
// standings pages. Owned solely by this service, populated by the startup
// sync worker from the signal service.
type StartupMirror struct {
	StartupID int64  `json:"startup_id" gorm:"primaryKey;autoIncrement:false"`
	Name      string `json:"name" gorm:"not null"`
	Slug      string `json:"slug" gorm:"index"`
	Handle    string `json:"handle,omitempty"` // social handle tracked by the ingestor

	Timestamps
}
