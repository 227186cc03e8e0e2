package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	envCacheDir = "KERNELTUNE_CACHE_DIR"
	envConfig   = "KERNELTUNE_CONFIG"
)

// resolveCacheDir picks the tuning cache directory: the flag (or config
// value), then $KERNELTUNE_CACHE_DIR, then the user cache dir.
func resolveCacheDir(flag string) (string, error) {
	if dir := strings.TrimSpace(flag); dir != "" {
		return filepath.Clean(dir), nil
	}
	if dir := strings.TrimSpace(os.Getenv(envCacheDir)); dir != "" {
		return filepath.Clean(dir), nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("no cache directory: set --cache-dir or %s: %w", envCacheDir, err)
	}
	return filepath.Join(base, "kerneltune"), nil
}

// parsePair parses "3", "3x5" or "3,5" into a pair. A single value is used
// for both dimensions.
func parsePair(s string) ([2]int, error) {
	s = strings.TrimSpace(s)
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == 'x' || r == 'X' || r == ',' })
	switch len(parts) {
	case 1:
		v, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return [2]int{}, fmt.Errorf("invalid pair %q: %w", s, err)
		}
		return [2]int{v, v}, nil
	case 2:
		a, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return [2]int{}, fmt.Errorf("invalid pair %q: %w", s, err)
		}
		b, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return [2]int{}, fmt.Errorf("invalid pair %q: %w", s, err)
		}
		return [2]int{a, b}, nil
	default:
		return [2]int{}, fmt.Errorf("invalid pair %q: expected N or NxM", s)
	}
}

// parseInts parses a comma separated list of positive integers.
func parseInts(s string) ([]int, error) {
	var out []int
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("invalid list %q: %w", s, err)
		}
		if v <= 0 {
			return nil, fmt.Errorf("invalid list %q: %d is not positive", s, v)
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, errors.New("empty list")
	}
	return out, nil
}
