package knobs

import (
	"encoding/json"
	"os"

	"audiomon-server/pkg/errors"
)

// LoadBaselineFile reads a JSON object of knob key/value pairs used as the
// resolver baseline. An empty path yields an empty baseline. Values are
// validated by NewResolver, not here.
func LoadBaselineFile(path string) (map[string]interface{}, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read knob baseline file").WithField("path", path)
	}

	baseline := make(map[string]interface{})
	if err := json.Unmarshal(data, &baseline); err != nil {
		return nil, errors.Wrap(err, "failed to parse knob baseline file").WithField("path", path)
	}
	return baseline, nil
}
