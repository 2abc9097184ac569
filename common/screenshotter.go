/*
 *
 * navcheck - a browser navigation check for Chromium
 * Copyright (C) 2023 navcheck authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package common

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/davidnuzik/navcheck/api"
	"github.com/davidnuzik/navcheck/storage"
)

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Screenshotter captures page screenshots and hands them to a persister.
type Screenshotter struct {
	persister storage.FilePersister
	now       func() time.Time
}

// NewScreenshotter returns a Screenshotter that persists through p.
func NewScreenshotter(p storage.FilePersister) *Screenshotter {
	return &Screenshotter{
		persister: p,
		now:       time.Now,
	}
}

// Capture takes a screenshot of s and persists it as <name>-<unix ms>.png.
// It returns the path handed to the persister.
func (sc *Screenshotter) Capture(ctx context.Context, s api.Session, name string) (string, error) {
	buf, err := s.Screenshot(ctx)
	if err != nil {
		return "", fmt.Errorf("capturing screenshot: %w", err)
	}

	path := fmt.Sprintf("%s-%d.png", fileSafe(name), sc.now().UnixMilli())
	if err := sc.persister.Persist(ctx, path, bytes.NewReader(buf)); err != nil {
		return "", fmt.Errorf("persisting screenshot: %w", err)
	}

	return path, nil
}

func fileSafe(name string) string {
	s := strings.Trim(unsafeFileChars.ReplaceAllString(name, "_"), "_")
	if s == "" {
		return "screenshot"
	}
	return s
}
