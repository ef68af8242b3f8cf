package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "listen":
		return listenTemplate, nil
	case "dial":
		return dialTemplate, nil
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

const listenTemplate = `identity = "frame"
origin = "http://localhost:9400"
target_origin = "http://localhost:9401"
listen_addr = ":9400"
# link_token = "change-me"

# [tls]
# cert_file = "server.crt"
# key_file = "server.key"
`

const dialTemplate = `identity = "host"
origin = "http://localhost:9401"
target_origin = "http://localhost:9400"
dial_url = "ws://localhost:9400/link"
# link_token = "change-me"

# [tls]
# ca_file = "ca.crt"

[retry]
window = "1s"
floor = "100ms"
multiplier = 1.0
max_window = "5s"
max_attempts = 0
`
