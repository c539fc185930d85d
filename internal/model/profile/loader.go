package profile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

var ErrNoProfiles = errors.New("profile file defines no profiles")

type profileFile struct {
	Profiles []Profile `toml:"profile"`
}

// LoadFile 从 TOML 文件读取助手配置，文件中的第一个 [[profile]] 作为默认配置。
func LoadFile(path string) ([]Profile, error) {
	var file profileFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("decode profile file %s: %w", path, err)
	}
	return normalize(file.Profiles)
}

// Parse decodes profiles from TOML text.
func Parse(data string) ([]Profile, error) {
	var file profileFile
	if _, err := toml.Decode(data, &file); err != nil {
		return nil, fmt.Errorf("decode profiles: %w", err)
	}
	return normalize(file.Profiles)
}

func normalize(items []Profile) ([]Profile, error) {
	if len(items) == 0 {
		return nil, ErrNoProfiles
	}

	seen := make(map[string]struct{}, len(items))
	out := make([]Profile, 0, len(items))
	for i, item := range items {
		item.ID = strings.TrimSpace(item.ID)
		if item.ID == "" {
			return nil, fmt.Errorf("profile #%d: id is required", i+1)
		}
		if _, dup := seen[item.ID]; dup {
			return nil, fmt.Errorf("profile %q defined twice", item.ID)
		}
		if strings.TrimSpace(item.Greeting) == "" {
			return nil, fmt.Errorf("profile %q: greeting is required", item.ID)
		}
		seen[item.ID] = struct{}{}
		out = append(out, item.withDefaults())
	}
	return out, nil
}
