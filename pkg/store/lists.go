// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// DefaultBrands are merged into the stored brand list
var DefaultBrands = []string{"Renogy", "Redarch", "Litime", "MicTuning", "Vevor"}

// DefaultCategories are merged into the stored category list
var DefaultCategories = []string{"Solar", "Batteries", "Dc to Dc Chargers", "Switch Panel", "Diesel Heaters"}

// ErrEmptyName is returned when adding a blank entry
var ErrEmptyName = errors.New("name must not be empty")

// List is a named string list with defaults, used for brands and categories
type List struct {
	kv       KV
	key      string
	kind     string
	defaults []string
}

// NewBrands returns the brand list
func NewBrands(kv KV) *List {
	return &List{kv: kv, key: KeyBrands, kind: "brand", defaults: DefaultBrands}
}

// NewCategories returns the category list
func NewCategories(kv KV) *List {
	return &List{kv: kv, key: KeyCategories, kind: "category", defaults: DefaultCategories}
}

// All returns the stored entries followed by any defaults missing from them
func (l *List) All(ctx context.Context) ([]string, error) {
	var stored []string
	if _, err := loadJSON(ctx, l.kv, l.key, &stored); err != nil {
		return nil, err
	}
	return merge(stored, l.defaults), nil
}

// Add appends name unless already present
func (l *List) Add(ctx context.Context, name string) ([]string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}
	all, err := l.All(ctx)
	if err != nil {
		return nil, err
	}
	if contains(all, name) {
		return all, nil
	}
	all = append(all, name)
	return all, saveJSON(ctx, l.kv, l.key, all)
}

// Remove deletes name. Defaults come back on the next All.
func (l *List) Remove(ctx context.Context, name string) ([]string, error) {
	all, err := l.All(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	found := false
	for _, v := range all {
		if v == name {
			found = true
			continue
		}
		out = append(out, v)
	}
	if !found {
		return nil, fmt.Errorf("%s %q: %w", l.kind, name, ErrNotFound)
	}
	return out, saveJSON(ctx, l.kv, l.key, out)
}

func merge(stored, defaults []string) []string {
	out := append([]string{}, stored...)
	for _, d := range defaults {
		if !contains(out, d) {
			out = append(out, d)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
