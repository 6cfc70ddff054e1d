package es

import "log/slog"

// Version is the position of an event within its stream. The first event of
// a stream has version 1; versions increase by exactly one per event. The
// uniqueness of (stream_id, version) is what detects concurrent writers.
type Version uint64

func (v Version) Uint64() uint64 { return uint64(v) }

func (v Version) SlogAttr() slog.Attr { return v.SlogAttrWithKey("version") }

func (v Version) SlogAttrWithKey(key string) slog.Attr { return slog.Uint64(key, uint64(v)) }
