// Package events defines the typed event vocabulary shared by the
// connection layer and its subscribers.
//
// Wire frames are JSON objects of the form {"event": "...", "data": {...}}.
// Known event kinds decode into typed payloads; unknown kinds are passed
// through with their raw JSON data so subscribers can still observe them.
package events
