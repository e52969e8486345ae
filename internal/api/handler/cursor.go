package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/site-audit/internal/domain"
)

// DecodeAuditCursor parses an opaque listing cursor. An empty string means
// the first page.
func DecodeAuditCursor(cursorStr string) (*domain.Cursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.URLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	decodedParts := strings.Split(string(decoded), "|")
	if len(decodedParts) != 2 || decodedParts[1] == "" {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var updatedAt int64
	_, err = fmt.Sscanf(decodedParts[0], "%d", &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid updatedAt in cursor: %w", err)
	}

	return &domain.Cursor{
		UpdatedAt: time.Unix(0, updatedAt).UTC(),
		ID:        decodedParts[1],
	}, nil
}

func EncodeAuditCursor(cursor *domain.Cursor) string {
	cs := fmt.Sprintf("%d|%s", cursor.UpdatedAt.UnixNano(), cursor.ID)
	return base64.URLEncoding.EncodeToString([]byte(cs))
}
