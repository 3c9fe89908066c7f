// Package myaudio handles the raw audio plumbing: capture from the system
// loopback device, buffering between the capture callback and the monitor
// loop, PCM format conversion, and WAV file read/write for the pattern
// catalogue.
package myaudio
