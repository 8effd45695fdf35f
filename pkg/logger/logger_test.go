package logger

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelWarn,
	}
	for input, want := range cases {
		got, err := ParseLevel(input)
		assert.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestRedactAttrMasksCredentialLikeKeys(t *testing.T) {
	for _, key := range []string{"password", "DSN", "Secret", "token", "api_key", "db_password"} {
		a := redactAttr(slog.String(key, "s3cr3t"))
		assert.Equal(t, "***", a.Value.String(), "key %q must be redacted", key)
	}
}

func TestRedactAttrLeavesOrdinaryAttrsAlone(t *testing.T) {
	a := redactAttr(slog.String("project_id", "proj-1"))
	assert.Equal(t, "proj-1", a.Value.String())
}

func TestGetLoggerInitializesLazily(t *testing.T) {
	defaultLogger = nil
	l := GetLogger()
	assert.NotNil(t, l)
	assert.Same(t, l, GetLogger())
}
