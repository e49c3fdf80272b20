// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/bluestat/pkg/byteframe"
	"github.com/google/uuid"
)

// LearnedCommand is a named frame saved for replay
type LearnedCommand struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	HexBytes string    `json:"hexBytes"`
	SavedAt  time.Time `json:"savedAt"`
}

// Bytes parses the stored hex
func (c LearnedCommand) Bytes() ([]byte, error) {
	return byteframe.ParseHex(c.HexBytes)
}

// Learned stores learned commands
type Learned struct {
	kv  KV
	now func() time.Time
}

// NewLearned creates the learned command store. A nil clock uses time.Now.
func NewLearned(kv KV, now func() time.Time) *Learned {
	if now == nil {
		now = time.Now
	}
	return &Learned{kv: kv, now: now}
}

// List returns every learned command
func (l *Learned) List(ctx context.Context) ([]LearnedCommand, error) {
	var cmds []LearnedCommand
	if _, err := loadJSON(ctx, l.kv, KeyLearned, &cmds); err != nil {
		return nil, err
	}
	return cmds, nil
}

// Save validates hex and stores it under name. The hex is normalised to
// the lower-case spaced form.
func (l *Learned) Save(ctx context.Context, name, hex string) (LearnedCommand, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return LearnedCommand{}, ErrEmptyName
	}
	raw, err := byteframe.ParseHex(hex)
	if err != nil {
		return LearnedCommand{}, err
	}

	cmds, err := l.List(ctx)
	if err != nil {
		return LearnedCommand{}, err
	}
	cmd := LearnedCommand{
		ID:       uuid.NewString(),
		Name:     name,
		HexBytes: byteframe.FormatHex(raw),
		SavedAt:  l.now().UTC(),
	}
	cmds = append(cmds, cmd)
	return cmd, saveJSON(ctx, l.kv, KeyLearned, cmds)
}

// Get finds a command by id, id prefix or name
func (l *Learned) Get(ctx context.Context, ref string) (LearnedCommand, error) {
	cmds, err := l.List(ctx)
	if err != nil {
		return LearnedCommand{}, err
	}
	if i := indexOfLearned(cmds, ref); i >= 0 {
		return cmds[i], nil
	}
	return LearnedCommand{}, fmt.Errorf("learned command %q: %w", ref, ErrNotFound)
}

// Delete removes a command by id, id prefix or name
func (l *Learned) Delete(ctx context.Context, ref string) error {
	cmds, err := l.List(ctx)
	if err != nil {
		return err
	}
	i := indexOfLearned(cmds, ref)
	if i < 0 {
		return fmt.Errorf("learned command %q: %w", ref, ErrNotFound)
	}
	cmds = append(cmds[:i], cmds[i+1:]...)
	return saveJSON(ctx, l.kv, KeyLearned, cmds)
}

func indexOfLearned(cmds []LearnedCommand, ref string) int {
	for i, c := range cmds {
		if c.ID == ref {
			return i
		}
	}
	if len(ref) >= 8 {
		for i, c := range cmds {
			if strings.HasPrefix(c.ID, ref) {
				return i
			}
		}
	}
	for i, c := range cmds {
		if strings.EqualFold(c.Name, ref) {
			return i
		}
	}
	return -1
}
