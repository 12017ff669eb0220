package keys

import "fmt"

const (
	// notation dictionary for key formats:
	// u = user
	// c = collection
	// d = document
	// All segments are separated by ":"; ids never contain ":" or "/".

	DocKeyFmt        = "u:%s:c:%s:d:%s" // u:<user_id>:c:<collection>:d:<doc_id>
	CollectionPrefix = "u:%s:c:%s:d:"   // u:<user_id>:c:<collection>:d:
	UserPrefixFmt    = "u:%s:"          // u:<user_id>:

	// PathFmt is the document path reported in permission errors.
	PathFmt = "/users/%s/%s/%s" // /users/<user_id>/<collection>/<doc_id>
)

// GenDocKey returns the storage key of a document after validating every segment.
func GenDocKey(user, collection, id string) (string, error) {
	if err := ValidateUserID(user); err != nil {
		return "", err
	}
	if err := ValidateCollection(collection); err != nil {
		return "", err
	}
	if err := ValidateDocID(id); err != nil {
		return "", err
	}
	return fmt.Sprintf(DocKeyFmt, user, collection, id), nil
}

// GenCollectionPrefix returns the key prefix shared by all documents of a user collection.
func GenCollectionPrefix(user, collection string) (string, error) {
	if err := ValidateUserID(user); err != nil {
		return "", err
	}
	if err := ValidateCollection(collection); err != nil {
		return "", err
	}
	return fmt.Sprintf(CollectionPrefix, user, collection), nil
}

// GenUserPrefix returns the prefix of every key owned by user.
func GenUserPrefix(user string) (string, error) {
	if err := ValidateUserID(user); err != nil {
		return "", err
	}
	return fmt.Sprintf(UserPrefixFmt, user), nil
}

// DocPath renders the path of a document, or of a collection when id is empty.
func DocPath(user, collection, id string) string {
	if id == "" {
		return fmt.Sprintf("/users/%s/%s", user, collection)
	}
	return fmt.Sprintf(PathFmt, user, collection, id)
}

// UpperBound returns the smallest key greater than every key with prefix.
func UpperBound(prefix string) []byte {
	upper := []byte(prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xFF {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}
