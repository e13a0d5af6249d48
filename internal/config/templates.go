package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "guacd":
		return guacdTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const guacdTemplate = `listen_addr = ":4822"
admin_addr = ":4823"
cors_origins = ["http://localhost:3000"]
backends = ["loopback"]

[session]
sync_threshold_ms = 500
sync_frequency_ms = 5000
message_pause_ms = 50
read_wait_ms = 100
handshake_timeout_ms = 15000
max_instruction_bytes = 524288
`
