// Abuse detection and punishment escalation for chat communities.
//
// This package (`github.com/guardianbot/guardian/protect`) holds the identifiers and error values shared by the protection subsystem. Streams of member joins, messages, and moderator warnings are fed to per-community detectors (`protect/detect`, `protect/warn`); when a burst crosses a configured threshold the coordinating engine (`protect/engine`) executes a punishment through an external moderation executor and emits a notification.
//
// See `cmd/guardian` for a daemon built on these packages.
package protect
