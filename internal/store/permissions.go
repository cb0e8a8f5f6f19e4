package store

import (
	"encoding/json"

	"github.com/nanoedge/nanoedgert/internal/domain"
)

func marshalPermissions(p domain.Permissions) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalPermissions(raw string) (domain.Permissions, error) {
	var p domain.Permissions
	if raw == "" {
		return p, nil
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return p, err
	}
	return p, nil
}
