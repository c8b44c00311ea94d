package utils

import (
	"encoding/json"
)

// DeepCopy copies src to dst through a JSON marshal/unmarshal round trip
func DeepCopy(dst, src interface{}) error {
	payload, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, dst)
}
