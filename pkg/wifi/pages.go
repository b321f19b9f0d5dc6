// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wifi

import (
	"fmt"

	"go.uber.org/zap"
)

type page struct {
	path string
	html string
}

// PageStore maps request paths to HTML for access-point mode. Slot 0 holds
// the reserved default page; lookups that miss are served from it.
type PageStore struct {
	slots [NumPages]page
	log   *zap.Logger
}

// NewPageStore returns a store holding only the default page.
func NewPageStore(log *zap.Logger) *PageStore {
	if log == nil {
		log = zap.NewNop()
	}
	s := &PageStore{log: log}
	s.slots[0] = page{path: DefaultPath, html: DefaultHTML}
	return s
}

// SetPage overwrites the page at path, or creates it in a free slot.
func (s *PageStore) SetPage(path, html string) error {
	if path == "" {
		return ErrEmptyPath
	}
	if err := checkCapacity("page path", path, PagePathSize); err != nil {
		return err
	}
	if err := checkCapacity("page html", html, PageHTMLSize); err != nil {
		return err
	}
	if i := s.find(path); i >= 0 {
		s.slots[i].html = html
		s.log.Debug("page set", zap.String("path", path))
		return nil
	}
	for i := range s.slots {
		if s.slots[i].path == "" {
			s.slots[i] = page{path: path, html: html}
			s.log.Debug("page created", zap.String("path", path), zap.Int("slot", i))
			return nil
		}
	}
	s.log.Warn("page array is full", zap.String("path", path))
	return fmt.Errorf("%w: %q", ErrStoreFull, path)
}

// GetPage returns the HTML stored at path, or the default page.
func (s *PageStore) GetPage(path string) string {
	if i := s.find(path); i >= 0 {
		return s.slots[i].html
	}
	return s.slots[0].html
}

// PageExists reports whether path has a stored page.
func (s *PageStore) PageExists(path string) bool {
	return s.find(path) >= 0
}

// PagesAvailable reports whether a new path can still be stored.
func (s *PageStore) PagesAvailable() bool {
	for i := range s.slots {
		if s.slots[i].path == "" {
			return true
		}
	}
	return false
}

// Paths lists the stored paths in slot order.
func (s *PageStore) Paths() []string {
	paths := make([]string, 0, NumPages)
	for i := range s.slots {
		if s.slots[i].path != "" {
			paths = append(paths, s.slots[i].path)
		}
	}
	return paths
}

func (s *PageStore) find(path string) int {
	if path == "" {
		return -1
	}
	for i := range s.slots {
		if s.slots[i].path == path {
			return i
		}
	}
	return -1
}
