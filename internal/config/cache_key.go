package config

import (
	"fmt"

	"github.com/google/uuid"
)

type CacheKeyStruct struct{}

// SessionOrderKey holds the display order fixed when a student first opened
// an attempt.
func (CacheKeyStruct) SessionOrderKey(assessmentID uuid.UUID, studentID string, attempt int) string {
	return fmt.Sprintf("student:%s:assessment:%s:attempt:%d:order", studentID, assessmentID, attempt)
}

// DraftAnswersKey holds the latest answer snapshot of an open attempt.
func (CacheKeyStruct) DraftAnswersKey(assessmentID uuid.UUID, studentID string, attempt int) string {
	return fmt.Sprintf("student:%s:assessment:%s:attempt:%d:draft", studentID, assessmentID, attempt)
}

// AssessmentMonitorChannel is the Pub/Sub channel for session lifecycle events.
func (CacheKeyStruct) AssessmentMonitorChannel(assessmentID uuid.UUID) string {
	return fmt.Sprintf("assessment:%s:monitor", assessmentID)
}

var CacheKey = CacheKeyStruct{}
