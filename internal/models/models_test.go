package models

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSendRequestValidate(t *testing.T) {
	req := SendRequest{WorkspaceID: "T123", ChannelID: "C456", Text: "hello"}
	if err := req.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	missing := SendRequest{ChannelID: "C456", Text: "hello"}
	if err := missing.Validate(); !errors.Is(err, ErrMissingWorkspaceID) {
		t.Errorf("expected ErrMissingWorkspaceID, got %v", err)
	}

	noChannel := SendRequest{WorkspaceID: "T123", Text: "hello"}
	if err := noChannel.Validate(); !errors.Is(err, ErrMissingChannelID) {
		t.Errorf("expected ErrMissingChannelID, got %v", err)
	}

	noText := SendRequest{WorkspaceID: "T123", ChannelID: "C456"}
	if err := noText.Validate(); !errors.Is(err, ErrMissingText) {
		t.Errorf("expected ErrMissingText, got %v", err)
	}

	tooLong := SendRequest{WorkspaceID: "T123", ChannelID: "C456", Text: strings.Repeat("x", MaxMessageTextLength+1)}
	if err := tooLong.Validate(); !errors.Is(err, ErrTextTooLong) {
		t.Errorf("expected ErrTextTooLong, got %v", err)
	}
}

func TestScheduleRequestValidate(t *testing.T) {
	req := ScheduleRequest{WorkspaceID: "T123", ChannelID: "C456", Text: "hi", SendAt: "2026-09-01T12:30:00-04:00"}
	sendAt, err := req.Validate()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sendAt.Location() != time.UTC {
		t.Errorf("expected UTC send time, got location %v", sendAt.Location())
	}
	want := time.Date(2026, 9, 1, 16, 30, 0, 0, time.UTC)
	if !sendAt.Equal(want) {
		t.Errorf("expected %v, got %v", want, sendAt)
	}
}

func TestScheduleRequestValidateErrors(t *testing.T) {
	missing := ScheduleRequest{WorkspaceID: "T123", ChannelID: "C456", Text: "hi"}
	if _, err := missing.Validate(); !errors.Is(err, ErrMissingSendAt) {
		t.Errorf("expected ErrMissingSendAt, got %v", err)
	}

	malformed := ScheduleRequest{WorkspaceID: "T123", ChannelID: "C456", Text: "hi", SendAt: "tomorrow at noon"}
	if _, err := malformed.Validate(); !errors.Is(err, ErrInvalidDatetime) {
		t.Errorf("expected ErrInvalidDatetime, got %v", err)
	}

	noFields := ScheduleRequest{SendAt: "2026-09-01T12:30:00Z"}
	if _, err := noFields.Validate(); !errors.Is(err, ErrMissingWorkspaceID) {
		t.Errorf("expected ErrMissingWorkspaceID, got %v", err)
	}
}

func TestScheduledStatusHelpers(t *testing.T) {
	for _, s := range []ScheduledStatus{ScheduledStatusPending, ScheduledStatusSent, ScheduledStatusCanceled, ScheduledStatusFailed} {
		if !IsValidScheduledStatus(s) {
			t.Errorf("expected %q to be valid", s)
		}
	}
	if IsValidScheduledStatus("delivered") {
		t.Error("expected unknown status to be invalid")
	}
	if !IsTerminalScheduledStatus(ScheduledStatusSent) || !IsTerminalScheduledStatus(ScheduledStatusCanceled) {
		t.Error("sent and canceled should be terminal")
	}
	if IsTerminalScheduledStatus(ScheduledStatusPending) || IsTerminalScheduledStatus(ScheduledStatusFailed) {
		t.Error("pending and failed should not be terminal")
	}
}

func TestInviteRequestValidate(t *testing.T) {
	req := InviteRequest{WorkspaceID: "T123", ChannelID: "C456"}
	if err := req.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	empty := InviteRequest{}
	if err := empty.Validate(); !errors.Is(err, ErrMissingWorkspaceID) {
		t.Errorf("expected ErrMissingWorkspaceID, got %v", err)
	}
}
