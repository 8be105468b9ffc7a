// Package logging provides structured JSON logging with size-based
// rotation. Server processes log to <state_dir>/logs/agent-brain.log;
// stdio transports log to file only so the protocol stream stays
// clean. The viewer reads the same files back for the logs command.
package logging
