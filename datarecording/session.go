package datarecording

import (
	"os"
	"strings"
	"time"
)

const sessionTimeFormat = "2006-01-02 15:04:05.000000000"

// SessionInfo is one property of a recorded session.
type SessionInfo struct {
	Property string
	Value    string
}

// A SessionRecorder records when and how a program run happened.
type SessionRecorder struct {
	tableName string
	recorder  DataRecorder
	entries   []SessionInfo
}

// NewSessionRecorder creates a SessionRecorder that writes to the
// "session_info" table of the recorder.
func NewSessionRecorder(recorder DataRecorder) *SessionRecorder {
	s := &SessionRecorder{
		tableName: "session_info",
		recorder:  recorder,
	}

	recorder.CreateTable(s.tableName, SessionInfo{})

	return s
}

// Start notes the start time and the command line.
func (s *SessionRecorder) Start() {
	s.Set("Start Time", time.Now().Format(sessionTimeFormat))
	s.Set("Command", strings.Join(os.Args, " "))

	if wd, err := os.Getwd(); err == nil {
		s.Set("Working Directory", wd)
	}
}

// Set notes a property of the session.
func (s *SessionRecorder) Set(property, value string) {
	s.entries = append(s.entries, SessionInfo{property, value})
}

// End notes the end time and writes all properties.
func (s *SessionRecorder) End() {
	s.Set("End Time", time.Now().Format(sessionTimeFormat))

	for _, entry := range s.entries {
		s.recorder.InsertData(s.tableName, entry)
	}

	s.entries = nil

	s.recorder.Flush()
}
