package relay

import (
	"os"
	"strings"

	"github.com/google/uuid"
)

// LoadMachineID reads the persisted machine identity at path, creating
// and persisting a fresh UUID v4 on first run.
func LoadMachineID(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}

	id := uuid.New().String()
	if err := os.WriteFile(path, []byte(id), 0o600); err != nil {
		return "", err
	}
	return id, nil
}
