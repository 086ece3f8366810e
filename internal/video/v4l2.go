// Package video discovers V4L2 cameras and checks that they can be opened.
package video

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
)

// Overridable in tests.
var (
	devRoot = "/dev"
	sysRoot = "/sys/class/video4linux"
)

var (
	// ErrNoDevice indicates no camera node exists.
	ErrNoDevice = errors.New("no video capture device found")
	// ErrPermission indicates the camera exists but the user cannot open it.
	ErrPermission = errors.New("permission denied")
	// ErrBusy indicates another process holds the camera.
	ErrBusy = errors.New("device busy")
)

// Device is one /dev/videoN node.
type Device struct {
	Path  string
	Name  string
	Index int
}

// Label returns the human-facing name of the device.
func (d Device) Label() string {
	if strings.TrimSpace(d.Name) == "" {
		return d.Path
	}
	return fmt.Sprintf("%s (%s)", d.Name, d.Path)
}

// ListDevices returns camera nodes ordered by index.
func ListDevices() ([]Device, error) {
	matches, err := filepath.Glob(filepath.Join(devRoot, "video*"))
	if err != nil {
		return nil, fmt.Errorf("list video devices: %w", err)
	}

	devices := make([]Device, 0, len(matches))
	for _, path := range matches {
		base := filepath.Base(path)
		index, err := strconv.Atoi(strings.TrimPrefix(base, "video"))
		if err != nil {
			continue
		}
		devices = append(devices, Device{
			Path:  path,
			Name:  readName(base),
			Index: index,
		})
	}

	sort.Slice(devices, func(i, j int) bool { return devices[i].Index < devices[j].Index })
	return devices, nil
}

// Select resolves a preference ("default", a device path, or a name substring).
func Select(preferred string) (Device, error) {
	devices, err := ListDevices()
	if err != nil {
		return Device{}, err
	}
	return selectFromList(devices, preferred)
}

func selectFromList(devices []Device, preferred string) (Device, error) {
	if len(devices) == 0 {
		return Device{}, ErrNoDevice
	}

	preferred = strings.TrimSpace(preferred)
	if preferred == "" || strings.EqualFold(preferred, "default") {
		return devices[0], nil
	}

	term := strings.ToLower(preferred)
	for _, device := range devices {
		if device.Path == preferred {
			return device, nil
		}
		if strings.Contains(strings.ToLower(device.Name), term) {
			return device, nil
		}
	}
	return Device{}, fmt.Errorf("video.device %q did not match any device", preferred)
}

// Probe opens and closes the node to surface permission and busy failures
// before the encoder starts.
func Probe(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return classifyOpenError(path, err)
	}
	return f.Close()
}

func classifyOpenError(path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%s: %w", path, ErrNoDevice)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%s: %w", path, ErrPermission)
	case errors.Is(err, syscall.EBUSY):
		return fmt.Errorf("%s: %w", path, ErrBusy)
	default:
		return fmt.Errorf("open %s: %w", path, err)
	}
}

func readName(base string) string {
	raw, err := os.ReadFile(filepath.Join(sysRoot, base, "name"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}
