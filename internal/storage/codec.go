package storage

import (
	"encoding/json"
	"strconv"

	"github.com/yndnr/tokgate/internal/core/domain"
)

// EncodeSession serializes a session for key-value backends.
func EncodeSession(s *domain.Session) ([]byte, error) {
	return json.Marshal(s)
}

// DecodeSession parses the output of EncodeSession.
func DecodeSession(b []byte) (*domain.Session, error) {
	var s domain.Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
