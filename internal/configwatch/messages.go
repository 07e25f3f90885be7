package configwatch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/Adithya-Monish-Kumar-K/hotswap-index/pkg/errors"
)

// Messages is the hot-reloaded application config served by the searcher.
type Messages struct {
	Messages map[string]string `json:"messages" yaml:"messages"`
}

// Get returns the message stored under name.
func (m *Messages) Get(name string) (string, bool) {
	v, ok := m.Messages[name]
	return v, ok
}

// DecodeMessages reads a messages file. Files ending in .yaml or .yml are
// parsed as YAML, anything else as JSON.
func DecodeMessages(path string) (*Messages, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading messages file: %w", err)
	}

	var m Messages
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &m)
	default:
		err = json.Unmarshal(data, &m)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", apperrors.ErrInvalidConfig, path, err)
	}
	if m.Messages == nil {
		m.Messages = make(map[string]string)
	}
	return &m, nil
}
