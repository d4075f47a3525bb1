package processfile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-jobobject/pkg/errors"
	"github.com/core-tools/hsu-jobobject/pkg/logging"
)

const DefaultAppName = "hsu-jobobject"

// ServiceContext selects the OS directory state files are written under
type ServiceContext string

const (
	SystemService  ServiceContext = "system"
	UserService    ServiceContext = "user"
	SessionService ServiceContext = "session"
)

// Config controls where a controller records its pid and control port
type Config struct {
	// BaseDirectory overrides the context directory when set
	BaseDirectory   string         `yaml:"base_directory,omitempty"`
	ServiceContext  ServiceContext `yaml:"service_context,omitempty"`
	AppName         string         `yaml:"app_name,omitempty"`
	UseSubdirectory bool           `yaml:"use_subdirectory,omitempty"`
}

// Manager writes and reads the state files of one controller, keyed by the
// group name (or "anonymous").
type Manager struct {
	config Config
	logger logging.Logger
}

func NewManager(config Config, logger logging.Logger) *Manager {
	if config.AppName == "" {
		config.AppName = DefaultAppName
	}
	if config.ServiceContext == "" {
		config.ServiceContext = UserService
	}
	return &Manager{config: config, logger: logger}
}

// Key maps a group name to a file-system safe key
func Key(groupName string) string {
	if groupName == "" {
		return "anonymous"
	}
	return strings.NewReplacer(`\`, "_", "/", "_", ":", "_").Replace(groupName)
}

func (m *Manager) PIDFilePath(key string) string {
	dir := m.baseDirectory()
	if m.config.UseSubdirectory {
		dir = filepath.Join(dir, m.config.AppName)
	}
	return filepath.Join(dir, key+".pid")
}

func (m *Manager) PortFilePath(key string) string {
	return strings.TrimSuffix(m.PIDFilePath(key), ".pid") + ".port"
}

func (m *Manager) WritePIDFile(key string, pid int) error {
	return m.writeNumber(m.PIDFilePath(key), "pid", pid)
}

func (m *Manager) WritePortFile(key string, port int) error {
	return m.writeNumber(m.PortFilePath(key), "port", port)
}

func (m *Manager) ReadPIDFile(key string) (int, error) {
	return m.readNumber(m.PIDFilePath(key), "pid")
}

func (m *Manager) ReadPortFile(key string) (int, error) {
	port, err := m.readNumber(m.PortFilePath(key), "port")
	if err != nil {
		return 0, err
	}
	if port <= 0 || port > 65535 {
		return 0, errors.NewValidationError(fmt.Sprintf("invalid port in port file: %d", port), nil).
			WithContext("port_file", m.PortFilePath(key))
	}
	return port, nil
}

// Remove deletes both state files; missing files are not an error
func (m *Manager) Remove(key string) error {
	collection := errors.NewErrorCollection()
	for _, path := range []string{m.PIDFilePath(key), m.PortFilePath(key)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			collection.Add(errors.NewIOError("failed to remove state file", err).WithContext("path", path))
		}
	}
	return collection.ToError()
}

func (m *Manager) writeNumber(path, what string, value int) error {
	m.logger.Debugf("Writing %s file, value: %d, path: %s", what, value, path)

	if err := ValidateDirectory(path); err != nil {
		m.logger.Errorf("State file directory validation failed, path: %s, error: %v", path, err)
		return err
	}

	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", value)), 0644); err != nil {
		return errors.NewIOError(fmt.Sprintf("failed to write %s file", what), err).WithContext("path", path)
	}

	m.logger.Infof("Wrote %s file, value: %d, path: %s", what, value, path)
	return nil
}

func (m *Manager) readNumber(path, what string) (int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.NewIOError(fmt.Sprintf("failed to read %s file", what), err).WithContext("path", path)
	}

	text := strings.TrimSpace(string(content))
	value, err := strconv.Atoi(text)
	if err != nil {
		return 0, errors.NewValidationError(fmt.Sprintf("invalid content in %s file", what), err).
			WithContext("path", path).WithContext("content", text)
	}
	return value, nil
}

func (m *Manager) baseDirectory() string {
	if m.config.BaseDirectory != "" {
		return m.config.BaseDirectory
	}

	switch m.config.ServiceContext {
	case SystemService:
		if runtime.GOOS == "windows" {
			if programData := os.Getenv("PROGRAMDATA"); programData != "" {
				return programData
			}
			return `C:\ProgramData`
		}
		if _, err := os.Stat("/run"); err == nil {
			return "/run"
		}
		return "/var/run"
	case SessionService:
		return os.TempDir()
	default:
		if runtime.GOOS == "windows" {
			if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
				return localAppData
			}
			return os.TempDir()
		}
		if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
			return runtimeDir
		}
		return os.TempDir()
	}
}

// ValidateDirectory creates the directory holding path if needed and checks
// that it is writable.
func ValidateDirectory(path string) error {
	dir := filepath.Dir(path)

	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.NewIOError("failed to create state directory", err).WithContext("directory", dir)
		}
	case err != nil:
		return errors.NewIOError("failed to access state directory", err).WithContext("directory", dir)
	case !info.IsDir():
		return errors.NewValidationError("state file parent is not a directory", nil).WithContext("path", dir)
	}

	probe := filepath.Join(dir, ".write_test")
	file, err := os.Create(probe)
	if err != nil {
		return errors.NewPermissionError("state directory is not writable", err).WithContext("directory", dir)
	}
	file.Close()
	os.Remove(probe)
	return nil
}
