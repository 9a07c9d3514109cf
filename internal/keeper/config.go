package keeper

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"tabkeeper/pkg/domain"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var boolTypes = []gjson.Type{gjson.True, gjson.False}

// configFields 可合并的字段及其允许的 JSON 类型，其余字段忽略
var configFields = map[string][]gjson.Type{
	"enabled":       boolTypes,
	"mode":          {gjson.String},
	"notifications": boolTypes,
	"autoRestart":   boolTypes,
	"smartRotation": boolTypes,
}

// mergeConfig 将部分配置浅合并到当前配置上，返回合并结果以及是否包含 enabled
func mergeConfig(cur domain.Config, partial []byte) (domain.Config, bool, error) {
	partial = bytes.TrimSpace(partial)
	if len(partial) == 0 {
		return cur, false, nil
	}
	if !gjson.ValidBytes(partial) {
		return cur, false, fmt.Errorf("%w: malformed JSON", domain.ErrInvalidConfig)
	}
	res := gjson.ParseBytes(partial)
	if res.Type == gjson.Null {
		return cur, false, nil
	}
	if !res.IsObject() {
		return cur, false, fmt.Errorf("%w: config must be an object", domain.ErrInvalidConfig)
	}

	doc, err := json.Marshal(cur)
	if err != nil {
		return cur, false, err
	}

	var enabledSet bool
	res.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		types, ok := configFields[name]
		if !ok {
			return true
		}
		if !slices.Contains(types, value.Type) {
			err = fmt.Errorf("%w: field %q has wrong type", domain.ErrInvalidConfig, name)
			return false
		}
		if name == "mode" {
			if _, err = domain.ParseMode(value.String()); err != nil {
				return false
			}
		}
		if name == "enabled" {
			enabledSet = true
		}
		doc, err = sjson.SetRawBytes(doc, name, []byte(value.Raw))
		return err == nil
	})
	if err != nil {
		return cur, false, err
	}

	var out domain.Config
	if err := json.Unmarshal(doc, &out); err != nil {
		return cur, false, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	return out, enabledSet, nil
}
