// Package sinks contains progress sinks that render harvest events.
package sinks
