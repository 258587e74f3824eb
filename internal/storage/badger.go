// Package storage opens the embedded BadgerDB instance that backs the
// identity store and the message log.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// Options controls how the database is opened.
type Options struct {
	// Dir is the on-disk location. Ignored when InMemory is set.
	Dir      string
	InMemory bool
	Logger   *slog.Logger
}

// Open opens BadgerDB with Badger's own logging routed through slog.
func Open(opts Options) (*badger.DB, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Dir == "" {
			return nil, fmt.Errorf("open badger: empty data directory")
		}
		bopts = badger.DefaultOptions(opts.Dir)
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	bopts = bopts.WithLogger(NewBadgerLogger(log, slog.LevelWarn))

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return db, nil
}

// OpenInMemory is a shorthand used by tests.
func OpenInMemory(log *slog.Logger) (*badger.DB, error) {
	return Open(Options{InMemory: true, Logger: log})
}

// BadgerLogger implements badger.Logger on top of slog, dropping records
// below the configured minimum level.
type BadgerLogger struct {
	log *slog.Logger
	min slog.Level
}

var _ badger.Logger = (*BadgerLogger)(nil)

// NewBadgerLogger returns an adapter emitting Badger records at or above min.
func NewBadgerLogger(log *slog.Logger, min slog.Level) *BadgerLogger {
	return &BadgerLogger{log: log.With(slog.String("component", "badger")), min: min}
}

func (l *BadgerLogger) Errorf(format string, args ...interface{}) {
	l.emit(slog.LevelError, format, args...)
}

func (l *BadgerLogger) Warningf(format string, args ...interface{}) {
	l.emit(slog.LevelWarn, format, args...)
}

func (l *BadgerLogger) Infof(format string, args ...interface{}) {
	l.emit(slog.LevelInfo, format, args...)
}

func (l *BadgerLogger) Debugf(format string, args ...interface{}) {
	l.emit(slog.LevelDebug, format, args...)
}

func (l *BadgerLogger) emit(level slog.Level, format string, args ...interface{}) {
	if level < l.min {
		return
	}
	l.log.Log(context.Background(), level, strings.TrimSpace(fmt.Sprintf(format, args...)))
}
