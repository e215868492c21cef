package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robalyx/rewind/internal/setup/config"
	"github.com/robalyx/rewind/internal/setup/telemetry/logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceType represents the type of service being initialized.
type ServiceType int

const (
	ServiceEngine ServiceType = iota
	ServiceWorker
	ServiceMigrate
)

// String returns the component name used for log directories and spans.
func (s ServiceType) String() string {
	switch s {
	case ServiceEngine:
		return "engine"
	case ServiceWorker:
		return "worker"
	case ServiceMigrate:
		return "migrate"
	default:
		return "unknown"
	}
}

const sessionLayout = "2006-01-02_15-04-05"

// Manager owns the log directory of one program run.
// Each run writes into a timestamped session directory; old sessions are rotated away.
type Manager struct {
	instanceID    string
	componentName string
	logDir        string
	level         string
	maxLogsToKeep int
	maxLogLines   int
	forwardErrors bool

	mu         sync.Mutex
	sessionDir string
	files      []*logger.CappedFile
}

// NewManager creates a new Manager. Worker type and ID refine the component name.
// Error entries are forwarded to OpenTelemetry when forwardErrors is set.
func NewManager(
	serviceType ServiceType, logDir string, debugCfg *config.Debug, forwardErrors bool, workerType, workerID string,
) *Manager {
	componentName := serviceType.String()

	if serviceType == ServiceWorker && workerType != "" {
		componentName = workerType + "_worker"
		if workerID != "" {
			componentName = fmt.Sprintf("%s_worker_%s", workerType, workerID)
		}
	}

	return &Manager{
		instanceID:    uuid.New().String(),
		componentName: componentName,
		logDir:        logDir,
		level:         debugCfg.LogLevel,
		maxLogsToKeep: debugCfg.MaxLogsToKeep,
		maxLogLines:   debugCfg.MaxLogLines,
		forwardErrors: forwardErrors,
	}
}

// GetLoggers initializes the main and database loggers.
func (lm *Manager) GetLoggers() (*zap.Logger, *zap.Logger, error) {
	if err := lm.setupLogDirectories(); err != nil {
		return nil, nil, err
	}

	mainLogger, err := lm.initLogger("main.log")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize main logger: %w", err)
	}

	dbLogger, err := lm.initLogger("database.log")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database logger: %w", err)
	}

	return mainLogger.With(zap.String("component", lm.componentName)), dbLogger, nil
}

// GetWorkerLogger creates a logger writing to its own file in the session directory.
func (lm *Manager) GetWorkerLogger(name string) *zap.Logger {
	logger, err := lm.initLogger(name + ".log")
	if err != nil {
		return zap.NewNop()
	}

	return logger
}

// GetCurrentSessionDir returns the current session directory.
func (lm *Manager) GetCurrentSessionDir() string {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	return lm.sessionDirLocked()
}

// GetInstanceID returns the unique identifier of this program run.
func (lm *Manager) GetInstanceID() string {
	return lm.instanceID
}

// GetComponentName returns the component name of this program run.
func (lm *Manager) GetComponentName() string {
	return lm.componentName
}

// Stop closes every log file opened by the manager.
func (lm *Manager) Stop() {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	for _, file := range lm.files {
		_ = file.Sync()
		_ = file.Close()
	}

	lm.files = nil
}

// setupLogDirectories rotates old sessions and creates a new session directory.
func (lm *Manager) setupLogDirectories() error {
	if err := os.MkdirAll(lm.logDir, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	if err := lm.rotateLogSessions(); err != nil {
		return fmt.Errorf("failed to rotate log sessions: %w", err)
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.sessionDir = filepath.Join(lm.logDir, time.Now().Format(sessionLayout))
	if err := os.MkdirAll(lm.sessionDir, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	return nil
}

// sessionDirLocked returns the session directory, creating one on first use.
// It falls back to the base directory when creation fails.
func (lm *Manager) sessionDirLocked() string {
	if lm.sessionDir != "" {
		return lm.sessionDir
	}

	dir := filepath.Join(lm.logDir, time.Now().Format(sessionLayout))
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return lm.logDir
	}

	lm.sessionDir = dir

	return dir
}

// initLogger creates a console-encoded logger writing to name inside the session directory.
func (lm *Manager) initLogger(name string) (*zap.Logger, error) {
	zapLevel, err := zapcore.ParseLevel(lm.level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	file, err := logger.OpenCapped(filepath.Join(lm.sessionDirLocked(), name), lm.maxLogLines)
	if err != nil {
		return nil, err
	}

	lm.files = append(lm.files, file)

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(file), zapLevel),
	}

	if lm.forwardErrors {
		cores = append(cores, NewCore(zapcore.ErrorLevel))
	}

	return zap.New(
		zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	), nil
}

// rotateLogSessions keeps only the newest maxLogsToKeep-1 sessions, leaving room for the next one.
func (lm *Manager) rotateLogSessions() error {
	sessions, err := filepath.Glob(filepath.Join(lm.logDir, "*"))
	if err != nil {
		return err
	}

	keep := max(lm.maxLogsToKeep-1, 0)
	if len(sessions) <= keep {
		return nil
	}

	modTimes := make(map[string]time.Time, len(sessions))
	for _, session := range sessions {
		if info, err := os.Stat(session); err == nil {
			modTimes[session] = info.ModTime()
		}
	}

	sort.Slice(sessions, func(i, j int) bool {
		return modTimes[sessions[i]].Before(modTimes[sessions[j]])
	})

	for _, session := range sessions[:len(sessions)-keep] {
		if err := os.RemoveAll(session); err != nil {
			return err
		}
	}

	return nil
}
