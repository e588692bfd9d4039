// Package dedupe provides duplicate suppression using a time-based cache
// to keep already-seen event ids from being admitted twice.
package dedupe
