// Package logx wraps zerolog behind a small value-type Logger.
//
// The zero value is a safe no-op, so components can always call their
// logger without nil checks. Derived loggers carry fixed fields via With().
package logx
