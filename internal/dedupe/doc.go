// Package dedupe tracks messages the gateway sent itself so that the backend's
// echo of them can be suppressed once, within a short expiry window.
package dedupe
