package model

import (
	"time"
)

// ExportRun is one recorded invocation of the export script, from connect
// to upload. One row per cron run.
type ExportRun struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Environment string    `json:"environment" gorm:"type:varchar(32);index"`
	Host        string    `json:"host" gorm:"type:varchar(128);not null"`
	Status      string    `json:"status" gorm:"type:varchar(16);not null;default:'running';index"`
	FailedStep  int       `json:"failed_step" gorm:"default:-1"`
	FailedName  string    `json:"failed_name" gorm:"type:varchar(64)"`
	ErrorClass  string    `json:"error_class" gorm:"type:varchar(32)"`
	ErrorMsg    string    `json:"error_msg" gorm:"type:text"`
	ReportFile  string    `json:"report_file" gorm:"type:varchar(256)"`
	ObjectURI   string    `json:"object_uri" gorm:"type:varchar(512)"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Duration    int64     `json:"duration"` // milliseconds
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName overrides the table name.
func (ExportRun) TableName() string {
	return "export_runs"
}

// Run status values.
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)

// Error classes recorded on failed runs; they mirror the error taxonomy
// of the export service.
const (
	ErrClassConnection   = "connection"
	ErrClassStepTimeout  = "step_timeout"
	ErrClassFileNotFound = "file_not_found"
	ErrClassUpload       = "upload"
)
