package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog for structured logging.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new structured logger.
func NewLogger(service, version string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Str("host", getHostname()).
		Logger()

	return &Logger{
		logger: logger,
	}
}

// WithDevice adds device_id context to logger.
func (l *Logger) WithDevice(deviceID string) *Logger {
	return &Logger{
		logger: l.logger.With().Str("device_id", deviceID).Logger(),
	}
}

// WithFile adds file context to logger.
func (l *Logger) WithFile(filePath string, fileSize int64) *Logger {
	return &Logger{
		logger: l.logger.With().
			Str("file_path", filePath).
			Int64("file_size", fileSize).
			Logger(),
	}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string) {
	l.logger.Debug().Msg(msg)
}

// Info logs an info message.
func (l *Logger) Info(msg string) {
	l.logger.Info().Msg(msg)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string) {
	l.logger.Warn().Msg(msg)
}

// Error logs an error message.
func (l *Logger) Error(err error, msg string) {
	l.logger.Error().Err(err).Msg(msg)
}

// Fatal logs a fatal message and exits.
func (l *Logger) Fatal(err error, msg string) {
	l.logger.Fatal().Err(err).Msg(msg)
}

// PushStarted logs the start of a push operation.
func (l *Logger) PushStarted(filePath string, fileSize int64, totalChunks int) {
	l.logger.Info().
		Str("file_path", filePath).
		Int64("file_size", fileSize).
		Int("total_chunks", totalChunks).
		Msg("push started")
}

// ChunkPut logs a single chunk write to CAS.
func (l *Logger) ChunkPut(filePath string, chunkIndex int, chunkSize int, deduped bool) {
	l.logger.Debug().
		Str("file_path", filePath).
		Int("chunk_index", chunkIndex).
		Int("chunk_size", chunkSize).
		Bool("deduped", deduped).
		Msg("chunk written to CAS")
}

// PushCompleted logs push completion.
func (l *Logger) PushCompleted(filePath string, fileSize int64, totalChunks int, duration time.Duration, hashVerified bool) {
	l.logger.Info().
		Str("file_path", filePath).
		Int64("file_size", fileSize).
		Int("total_chunks", totalChunks).
		Float64("duration_seconds", duration.Seconds()).
		Bool("hash_verified", hashVerified).
		Msg("push completed successfully")
}

// PullStarted logs the start of a pull operation.
func (l *Logger) PullStarted(filePath string, fileHash string) {
	l.logger.Info().
		Str("file_path", filePath).
		Str("file_hash", fileHash).
		Msg("pull started")
}

// PullCompleted logs pull completion.
func (l *Logger) PullCompleted(filePath string, fileSize int64, duration time.Duration) {
	l.logger.Info().
		Str("file_path", filePath).
		Int64("file_size", fileSize).
		Float64("duration_seconds", duration.Seconds()).
		Msg("pull completed successfully")
}

// ChunkDecodeFailed logs a chunk decode/decrypt failure.
func (l *Logger) ChunkDecodeFailed(filePath string, chunkIndex int, errorKind string, errMsg string, retryCount int) {
	l.logger.Error().
		Str("file_path", filePath).
		Int("chunk_index", chunkIndex).
		Str("error_kind", errorKind).
		Str("error_message", errMsg).
		Int("retry_count", retryCount).
		Msg("chunk decode failed")
}

// ConflictDetected logs a vector-clock conflict found during pull.
func (l *Logger) ConflictDetected(filePath string, localDevice, remoteDevice string) {
	l.logger.Warn().
		Str("file_path", filePath).
		Str("local_device", localDevice).
		Str("remote_device", remoteDevice).
		Msg("concurrent edit detected")
}

// ConflictResolved logs how a conflict was resolved.
func (l *Logger) ConflictResolved(filePath string, strategy string, conflictCopyPath string) {
	event := l.logger.Info().
		Str("file_path", filePath).
		Str("strategy", strategy)
	if conflictCopyPath != "" {
		event = event.Str("conflict_copy_path", conflictCopyPath)
	}
	event.Msg("conflict resolved")
}

// Helper function to get hostname.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
