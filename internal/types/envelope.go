package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// tagged marshals payload as a JSON object and prepends the discriminator
// field, so payload structs never carry their own tag.
func tagged(field, kind string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("payload for %s is not an object", kind)
	}
	var buf bytes.Buffer
	buf.Grow(len(body) + len(field) + len(kind) + 8)
	buf.WriteString(`{"`)
	buf.WriteString(field)
	buf.WriteString(`":`)
	k, _ := json.Marshal(kind)
	buf.Write(k)
	if !bytes.Equal(body, []byte("{}")) {
		buf.WriteByte(',')
		buf.Write(body[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

// peek reads only the discriminator of a frame.
func peek(frame []byte, field string) (string, error) {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(frame, &env); err != nil {
		return "", err
	}
	raw, ok := env[field]
	if !ok {
		return "", nil
	}
	var kind string
	if err := json.Unmarshal(raw, &kind); err != nil {
		return "", fmt.Errorf("%s field: %w", field, err)
	}
	return kind, nil
}

// CleanName trims and NFC-normalizes identities and display names so the same
// user typed on different keyboards maps to one identity.
func CleanName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
