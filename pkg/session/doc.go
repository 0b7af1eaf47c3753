/*
Package session implements conversation persistence and turn coordination.

The file-backed Store keeps every conversation in one bounded JSON file
and degrades gracefully when the disk fails. The Manager layers
latest-wins turn semantics on any ports.SessionStore, integrating
per-conversation locks with optional distributed locking across
replicas. Redactor and Cipher harden what reaches storage.
*/
package session
