package status

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodesStable(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{OK, 0},
		{NotConnected, -4},
		{BadChecksum, -23},
		{MissingGT1724, -50},
		{MissingEEPROM, -54},
		{NotImplemented, -99},
		{Ready, -100},
		{MacrosNotLoaded, -104},
	}
	for _, tt := range tests {
		if int(tt.code) != tt.want {
			t.Errorf("%s = %d, want %d", tt.code.Message(), int(tt.code), tt.want)
		}
	}
}

func TestMessagesDistinct(t *testing.T) {
	seen := make(map[string]Code)
	for c, m := range messages {
		if prev, ok := seen[m]; ok {
			t.Fatalf("codes %d and %d share message %q", prev, c, m)
		}
		seen[m] = c
	}
}

func TestFromError(t *testing.T) {
	if got := FromError(nil); got != OK {
		t.Fatalf("FromError(nil) = %d", got)
	}
	wrapped := fmt.Errorf("i2c: read 0x1c: %w", ReadTimeout)
	if got := FromError(wrapped); got != ReadTimeout {
		t.Fatalf("FromError(wrapped) = %d, want %d", got, ReadTimeout)
	}
	if !errors.Is(wrapped, ReadTimeout) {
		t.Fatal("errors.Is should match wrapped code")
	}
	if got := FromError(errors.New("boom")); got != GenError {
		t.Fatalf("FromError(plain) = %d, want GenError", got)
	}
}

func TestErrAndSignal(t *testing.T) {
	if OK.Err() != nil {
		t.Fatal("OK.Err() must be nil")
	}
	if DeviceNotFound.Err() == nil {
		t.Fatal("DeviceNotFound.Err() must not be nil")
	}
	if !MacrosLoaded.Signal() || Timeout.Signal() {
		t.Fatal("Signal classification wrong")
	}
	if Code(-7777).Known() {
		t.Fatal("undefined code reported as known")
	}
	if Code(-7777).Message() != "Unknown status -7777" {
		t.Fatalf("unexpected message %q", Code(-7777).Message())
	}
}
