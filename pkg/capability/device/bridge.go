// Package device provides capability adapters over a host-supplied Bridge.
// The engine schedules and gates these capabilities; all actual device
// behavior (camera, location, notification access) lives behind the Bridge
// implemented by the host application.
package device

import (
	"context"
	"time"
)

// Notification is a single active notification surfaced by the host.
type Notification struct {
	App    string    `json:"app"`
	Title  string    `json:"title"`
	Body   string    `json:"body"`
	Posted time.Time `json:"posted"`
}

// Bridge is implemented by the host platform layer. Calls may block on
// hardware and should honor ctx cancellation where the platform allows it.
type Bridge interface {
	// BatteryStatus returns the current charge percentage and charging state.
	BatteryStatus(ctx context.Context) (level int, charging bool, err error)

	// CapturePhoto captures a photo with the named camera ("rear" or
	// "front") and returns an opaque image reference.
	CapturePhoto(ctx context.Context, camera string) (imageRef string, err error)

	// RecognizeText runs OCR over a previously captured image reference.
	RecognizeText(ctx context.Context, imageRef string) (text string, err error)

	// CurrentLocation resolves the device position at the given accuracy
	// ("coarse" or "fine").
	CurrentLocation(ctx context.Context, accuracy string) (lat, lon float64, err error)

	// ActiveNotifications lists notifications currently in the shade.
	ActiveNotifications(ctx context.Context) ([]Notification, error)

	// ConnectivityStatus reports the active network type and reachability.
	ConnectivityStatus(ctx context.Context) (network string, online bool, err error)
}
