package tokenmanager

import (
	"encoding/json"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nkiryanov/gophauth/internal/models"
)

type AccessTokenClaims struct {
	jwt.RegisteredClaims
	Roles rolesClaim `json:"roles"`
	Scope scopeClaim `json:"scope,omitempty"`
}

// rolesClaim is encoded as JSON array
// Decoding also accepts comma separated string
type rolesClaim []string

func (c rolesClaim) MarshalJSON() ([]byte, error) {
	if c == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(c))
}

func (c *rolesClaim) UnmarshalJSON(data []byte) error {
	values, err := decodeList(data, ",")
	if err != nil {
		return err
	}
	*c = values
	return nil
}

// scopeClaim is encoded as space separated string
// Decoding also accepts JSON array
type scopeClaim []string

func (c scopeClaim) MarshalJSON() ([]byte, error) {
	return json.Marshal(strings.Join(c, " "))
}

func (c *scopeClaim) UnmarshalJSON(data []byte) error {
	values, err := decodeList(data, " ")
	if err != nil {
		return err
	}
	*c = values
	return nil
}

func decodeList(data []byte, sep string) ([]string, error) {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		return models.NormalizeSet(list), nil
	}

	var joined string
	if err := json.Unmarshal(data, &joined); err != nil {
		return nil, err
	}
	return models.NormalizeSet(strings.Split(joined, sep)), nil
}
