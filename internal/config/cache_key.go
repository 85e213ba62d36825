package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// PendingAnswersKey returns the hash key holding a student's unsaved answers
func (r *CacheKeyStruct) PendingAnswersKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:pending_answers", studentID, examID)
}

// StudentAnswersKey returns the cache key for a student's answers
func (r *CacheKeyStruct) StudentAnswersKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:answers", studentID, examID)
}

// ExamMonitorChannel returns the PubSub channel name for an exam's proctor events
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

// StudentProctorChannel returns the PubSub channel for proctor commands aimed at one student
func (r *CacheKeyStruct) StudentProctorChannel(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:proctor", studentID, examID)
}

var CacheKey = NewCacheKeyStruct()
