package keys

import (
	"fmt"
	"strings"
)

type DocKeyParts struct {
	User       string
	Collection string
	DocID      string
}

// ParseDocKey splits u:<user>:c:<collection>:d:<id>.
func ParseDocKey(key string) (DocKeyParts, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 6 || parts[0] != "u" || parts[2] != "c" || parts[4] != "d" {
		return DocKeyParts{}, fmt.Errorf("invalid document key format: %q", key)
	}
	p := DocKeyParts{User: parts[1], Collection: parts[3], DocID: parts[5]}
	if err := ValidateUserID(p.User); err != nil {
		return DocKeyParts{}, err
	}
	if err := ValidateCollection(p.Collection); err != nil {
		return DocKeyParts{}, err
	}
	if err := ValidateDocID(p.DocID); err != nil {
		return DocKeyParts{}, err
	}
	return p, nil
}
