package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// overrideFlag collects repeated -set key=value flags.
type overrideFlag map[string]float64

func (o *overrideFlag) String() string {
	if o == nil || len(*o) == 0 {
		return ""
	}
	keys := make([]string, 0, len(*o))
	for k := range *o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + strconv.FormatFloat((*o)[k], 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

func (o *overrideFlag) Set(raw string) error {
	key, val, ok := strings.Cut(raw, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return fmt.Errorf("%w: %q", errBadOverride, raw)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", errBadOverride, raw, err)
	}
	if *o == nil {
		*o = make(overrideFlag)
	}
	(*o)[key] = v
	return nil
}

// listFlag parses a comma-separated list.
type listFlag []string

func (l *listFlag) String() string {
	if l == nil {
		return ""
	}
	return strings.Join(*l, ",")
}

func (l *listFlag) Set(raw string) error {
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*l = append(*l, part)
		}
	}
	return nil
}
