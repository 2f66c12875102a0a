package tools

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// envValue returns the trimmed variable and whether it was set to
// something other than blanks.
func envValue(key string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	return v, v != ""
}

// envParse applies parse to the variable. Unset or unparsable values
// yield def so a typo in the environment never zeroes a setting.
func envParse[T any](key string, def T, parse func(string) (T, error)) T {
	v, ok := envValue(key)
	if !ok {
		return def
	}
	out, err := parse(v)
	if err != nil {
		return def
	}
	return out
}

func GetEnv(key, def string) string {
	if v, ok := envValue(key); ok {
		return v
	}
	return def
}

func GetEnvInt(key string, def int) int {
	return envParse(key, def, strconv.Atoi)
}

// GetEnvBool accepts the strconv forms plus yes/no and on/off.
func GetEnvBool(key string, def bool) bool {
	return envParse(key, def, parseFlag)
}

func GetEnvDuration(key string, def time.Duration) time.Duration {
	return envParse(key, def, time.ParseDuration)
}

// GetEnvList splits a comma separated variable, dropping empty items.
func GetEnvList(key string, def []string) []string {
	return envParse(key, def, func(v string) ([]string, error) {
		return SplitList(v), nil
	})
}

// SplitList splits on commas and drops blank items.
func SplitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseFlag(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "yes", "y", "on":
		return true, nil
	case "no", "n", "off":
		return false, nil
	}
	return strconv.ParseBool(v)
}
