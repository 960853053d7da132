package requirements

// ApplyDefaults merges override onto base using RFC 7396 (JSON Merge
// Patch) semantics, adapted from the cldctl component schema's merge
// pass for combining a model's declared argument defaults with the
// values supplied at instantiation:
//   - Map keys present in override: recursively merged
//   - Map keys absent in override: inherited from base
//   - Explicit nil in override: deletes the key from the result
//   - Scalar values in override: replace the base value
//   - Arrays in override: replace entirely (no element-wise merge)
func ApplyDefaults(base, override map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, overrideVal := range override {
		if overrideVal == nil {
			delete(result, k)
			continue
		}

		baseVal, baseExists := result[k]
		overrideMap, overrideIsMap := toStringMap(overrideVal)
		baseMap, baseIsMap := toStringMap(baseVal)

		if baseExists && baseIsMap && overrideIsMap {
			result[k] = ApplyDefaults(baseMap, overrideMap)
		} else {
			result[k] = overrideVal
		}
	}

	return result
}

func toStringMap(v interface{}) (map[string]interface{}, bool) {
	if v == nil {
		return nil, false
	}
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		result := make(map[string]interface{}, len(m))
		for k, val := range m {
			key, ok := k.(string)
			if !ok {
				continue
			}
			result[key] = val
		}
		return result, true
	default:
		return nil, false
	}
}
