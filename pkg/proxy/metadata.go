package proxy

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

type MetadataSynthesizer struct {
	userID  string
	newUUID func() string
}

func NewMetadataSynthesizer(userID string) *MetadataSynthesizer {
	return &MetadataSynthesizer{userID: userID, newUUID: uuid.NewString}
}

func (m *MetadataSynthesizer) SessionUserID() string {
	return fmt.Sprintf("user_%s_account__session_%s", m.userID, m.newUUID())
}

// Augment returns the body to forward and whether it was rewritten. The
// original bytes come back untouched unless the payload parsed, carries no
// metadata, and a default user id is configured.
func (m *MetadataSynthesizer) Augment(raw []byte, view PayloadView) ([]byte, bool, error) {
	if !view.Valid() || view.HasMetadata || m.userID == "" {
		return raw, false, nil
	}
	view.Parsed[requestFieldMetadata] = map[string]any{
		requestFieldUserID: m.SessionUserID(),
	}
	out, err := encodeObject(view.Parsed)
	if err != nil {
		delete(view.Parsed, requestFieldMetadata)
		return raw, false, err
	}
	return out, true, nil
}

func encodeObject(v map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
