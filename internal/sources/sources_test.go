package sources

import "encoding/json"

// unmarshalFixture decodes a JSON fixture string into out, the way a fake
// remoteClient stands in for an httptest server when the adapter's shape is
// all that is under test.
func unmarshalFixture(data string, out any) error {
	if out == nil {
		return nil
	}
	return json.Unmarshal([]byte(data), out)
}
