// Package logx provides the structured logger used across formbot.
//
// It wraps zerolog behind a small Logger value type so packages can take a
// Logger without importing zerolog directly. The zero Logger is a safe no-op,
// which keeps constructors usable from tests without any logging setup.
package logx
