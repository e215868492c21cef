package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestErrorCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		entry zapcore.Entry
		want  string
	}{
		{
			name:  "caller package",
			entry: zapcore.Entry{Caller: zapcore.EntryCaller{Function: "github.com/robalyx/rewind/internal/purge.(*Queue).Run"}},
			want:  "purge",
		},
		{
			name:  "logger name",
			entry: zapcore.Entry{LoggerName: "modification_service"},
			want:  "modification",
		},
		{
			name:  "unknown",
			entry: zapcore.Entry{Caller: zapcore.EntryCaller{Function: "main.main"}},
			want:  "application",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, errorCategory(tt.entry))
		})
	}
}

func TestCoreOnlyChecksEnabledLevels(t *testing.T) {
	t.Parallel()

	core := NewCore(zapcore.ErrorLevel).With([]zapcore.Field{zap.String("world", "overworld")})

	assert.Nil(t, core.Check(zapcore.Entry{Level: zapcore.InfoLevel}, nil))
	assert.NotNil(t, core.Check(zapcore.Entry{Level: zapcore.ErrorLevel}, nil))
	assert.NoError(t, core.Write(zapcore.Entry{Level: zapcore.ErrorLevel, Message: "boom"}, []zapcore.Field{zap.Int("n", 1)}))
}
