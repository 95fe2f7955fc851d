package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMessageMetadataValidateFor(t *testing.T) {
	fileID := uuid.New()
	meetingID := uuid.New()

	tests := []struct {
		name        string
		messageType string
		metadata    MessageMetadata
		wantErr     bool
	}{
		{
			name:        "text with no metadata",
			messageType: MessageTypeText,
			metadata:    MessageMetadata{},
		},
		{
			name:        "text with stray file metadata",
			messageType: MessageTypeText,
			metadata:    MessageMetadata{File: &FileMetadata{FileID: fileID, FileName: "a.pdf"}},
			wantErr:     true,
		},
		{
			name:        "file with complete metadata",
			messageType: MessageTypeFile,
			metadata:    MessageMetadata{File: &FileMetadata{FileID: fileID, FileName: "report.pdf", Size: 1024}},
		},
		{
			name:        "file without metadata",
			messageType: MessageTypeFile,
			metadata:    MessageMetadata{},
			wantErr:     true,
		},
		{
			name:        "file missing name",
			messageType: MessageTypeFile,
			metadata:    MessageMetadata{File: &FileMetadata{FileID: fileID}},
			wantErr:     true,
		},
		{
			name:        "meeting reference with id",
			messageType: MessageTypeMeeting,
			metadata:    MessageMetadata{Meeting: &MeetingMetadata{MeetingID: meetingID, StartsAt: time.Now()}},
		},
		{
			name:        "meeting reference with nil id",
			messageType: MessageTypeMeeting,
			metadata:    MessageMetadata{Meeting: &MeetingMetadata{}},
			wantErr:     true,
		},
		{
			name:        "system with event",
			messageType: MessageTypeSystem,
			metadata:    MessageMetadata{System: &SystemMetadata{Event: "participant_added"}},
		},
		{
			name:        "system without event",
			messageType: MessageTypeSystem,
			metadata:    MessageMetadata{System: &SystemMetadata{}},
			wantErr:     true,
		},
		{
			name:        "unknown type",
			messageType: "sticker",
			metadata:    MessageMetadata{},
			wantErr:     true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.metadata.ValidateFor(tt.messageType)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFor(%q) error = %v, wantErr %v", tt.messageType, err, tt.wantErr)
			}
		})
	}
}

func TestMessageMetadataScanRoundTrip(t *testing.T) {
	original := MessageMetadata{
		File: &FileMetadata{
			FileID:   uuid.New(),
			FileName: "contract.pdf",
			MimeType: "application/pdf",
			Size:     2048,
		},
	}

	value, err := original.Value()
	if err != nil {
		t.Fatalf("Value() failed: %v", err)
	}

	var scanned MessageMetadata
	if err := scanned.Scan(value.([]byte)); err != nil {
		t.Fatalf("Scan() failed: %v", err)
	}

	if scanned.File == nil {
		t.Fatal("expected file variant after scan")
	}
	if scanned.File.FileID != original.File.FileID || scanned.File.FileName != original.File.FileName {
		t.Errorf("round trip mismatch: got %+v, want %+v", scanned.File, original.File)
	}
	if scanned.Meeting != nil || scanned.System != nil {
		t.Error("unset variants must stay nil")
	}
}

func TestMessageMetadataScanNil(t *testing.T) {
	populated := MessageMetadata{System: &SystemMetadata{Event: "title_changed"}}
	if err := populated.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) failed: %v", err)
	}
	if populated.System != nil {
		t.Error("Scan(nil) must reset the metadata")
	}
}

func TestMessageVisible(t *testing.T) {
	msg := &Message{Content: "hello"}
	if !msg.Visible() {
		t.Error("new message must be visible")
	}
	now := time.Now()
	msg.RemovedAt = &now
	if msg.Visible() {
		t.Error("removed message must be hidden")
	}
}
