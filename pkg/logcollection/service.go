package logcollection

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/core-tools/hsu-jobobject/pkg/errors"
	"github.com/core-tools/hsu-jobobject/pkg/logging"
)

const maxRecordedErrors = 10

// Config controls how the output of spawned processes is collected
type Config struct {
	// File receives every collected line in addition to the logger
	File            string   `yaml:"file,omitempty"`
	ExcludePatterns []string `yaml:"exclude_patterns,omitempty"`
	// ParseStructured logs JSON lines at the level they carry
	ParseStructured bool `yaml:"parse_structured,omitempty"`
}

// Validate checks that every exclude pattern compiles
func (c Config) Validate() error {
	_, err := compilePatterns(c.ExcludePatterns)
	return err
}

// ProcessStatus reports collection progress for one process
type ProcessStatus struct {
	ID             string    `json:"id"`
	PID            uint32    `json:"pid"`
	Active         bool      `json:"active"`
	LinesProcessed int64     `json:"lines_processed"`
	LinesExcluded  int64     `json:"lines_excluded"`
	BytesProcessed int64     `json:"bytes_processed"`
	LastActivity   time.Time `json:"last_activity"`
	Errors         []string  `json:"errors,omitempty"`
}

// Service forwards process output line by line to a logger and an optional
// file. Collection of a stream ends when the stream is closed.
type Service struct {
	config   Config
	logger   logging.Logger
	excludes []*regexp.Regexp
	file     *fileWriter

	mutex     sync.Mutex
	processes map[string]*ProcessStatus
	wg        sync.WaitGroup
}

func NewService(config Config, logger logging.Logger) (*Service, error) {
	excludes, err := compilePatterns(config.ExcludePatterns)
	if err != nil {
		return nil, err
	}

	s := &Service{
		config:    config,
		logger:    logger,
		excludes:  excludes,
		processes: make(map[string]*ProcessStatus),
	}
	if config.File != "" {
		s.file = &fileWriter{path: config.File}
	}
	return s, nil
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, errors.NewValidationError("invalid exclude pattern", err).WithContext("pattern", pattern)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// Collect reads stream in a goroutine. done, if not nil, runs after the
// stream is exhausted.
func (s *Service) Collect(id string, pid uint32, stream io.Reader, done func()) {
	status := &ProcessStatus{ID: id, PID: pid, Active: true}
	s.mutex.Lock()
	s.processes[id] = status
	s.mutex.Unlock()

	processLogger := logging.NewLogger(fmt.Sprintf("process: %s , pid: %d , ", id, pid), logging.LogFuncs{
		LogLevelf: s.logger.LogLevelf,
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.read(status, stream, processLogger)
		if done != nil {
			done()
		}
	}()
}

func (s *Service) read(status *ProcessStatus, stream io.Reader, logger logging.Logger) {
	scanner := bufio.NewScanner(stream)
	for scanner.Scan() {
		s.processLine(status, scanner.Text(), logger)
	}
	if err := scanner.Err(); err != nil {
		s.recordError(status, fmt.Sprintf("stream reading error: %v", err))
	}

	s.mutex.Lock()
	status.Active = false
	s.mutex.Unlock()
}

func (s *Service) processLine(status *ProcessStatus, line string, logger logging.Logger) {
	now := time.Now()

	s.mutex.Lock()
	status.LastActivity = now
	status.BytesProcessed += int64(len(line))
	excluded := s.excluded(line)
	if excluded {
		status.LinesExcluded++
	} else {
		status.LinesProcessed++
	}
	s.mutex.Unlock()

	if excluded {
		return
	}

	level, message := logging.LogLevelInfo, line
	if s.config.ParseStructured {
		level, message = parseStructured(line)
	}
	logger.LogLevelf(level, "%s", message)

	if s.file != nil {
		entry := fmt.Sprintf("[%s][%s][%d] %s\n", now.Format(time.RFC3339), status.ID, status.PID, line)
		if err := s.file.write(entry); err != nil {
			s.recordError(status, fmt.Sprintf("file output error: %v", err))
		}
	}
}

func (s *Service) excluded(line string) bool {
	for _, re := range s.excludes {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// parseStructured extracts the level and message of a JSON log line. Lines
// that are not JSON objects are returned unchanged at info level.
func parseStructured(line string) (int, string) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return logging.LogLevelInfo, line
	}

	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
		return logging.LogLevelInfo, line
	}

	level := logging.LogLevelInfo
	for _, key := range []string{"level", "lvl", "severity"} {
		if value, ok := fields[key].(string); ok {
			if parsed, ok := logging.ParseLevel(value); ok {
				level = parsed
			}
			break
		}
	}

	for _, key := range []string{"msg", "message"} {
		if value, ok := fields[key].(string); ok {
			return level, value
		}
	}
	return level, line
}

func (s *Service) recordError(status *ProcessStatus, message string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	status.Errors = append(status.Errors, fmt.Sprintf("%s: %s", time.Now().Format(time.RFC3339), message))
	if len(status.Errors) > maxRecordedErrors {
		status.Errors = status.Errors[len(status.Errors)-maxRecordedErrors:]
	}
}

// Status returns a copy of the collection status of a process
func (s *Service) Status(id string) (*ProcessStatus, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	status, ok := s.processes[id]
	if !ok {
		return nil, false
	}
	copied := *status
	copied.Errors = append([]string(nil), status.Errors...)
	return &copied, true
}

// Wait blocks until every collected stream is exhausted or timeout elapses.
// It reports whether all streams finished.
func (s *Service) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Close flushes and closes the output file
func (s *Service) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.close()
}

// fileWriter appends lines to a file, opening it on first use
type fileWriter struct {
	path   string
	file   *os.File
	writer *bufio.Writer
	mutex  sync.Mutex
}

func (f *fileWriter) write(line string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.file == nil {
		if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
			return errors.NewIOError("failed to create output directory", err).WithContext("path", f.path)
		}
		file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return errors.NewIOError("failed to open output file", err).WithContext("path", f.path)
		}
		f.file = file
		f.writer = bufio.NewWriter(file)
	}

	if _, err := f.writer.WriteString(line); err != nil {
		return errors.NewIOError("failed to write output line", err).WithContext("path", f.path)
	}
	return nil
}

func (f *fileWriter) close() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.file == nil {
		return nil
	}
	flushErr := f.writer.Flush()
	closeErr := f.file.Close()
	f.file, f.writer = nil, nil
	if flushErr != nil {
		return errors.NewIOError("failed to flush output file", flushErr).WithContext("path", f.path)
	}
	if closeErr != nil {
		return errors.NewIOError("failed to close output file", closeErr).WithContext("path", f.path)
	}
	return nil
}
