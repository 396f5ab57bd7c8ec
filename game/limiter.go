/* Copyright © 2024-2026 The Varchess Arena Authors. All Rights Reserved.
 *
 * See LICENSE file at the root of this package for license terms
 */
package game

import (
	"sync"
	"time"
)

const (
	errorWindow    = 10 * time.Second
	errorWindowMax = 5
)

// errorLimiter caps error emissions per user per window so a misbehaving
// client cannot flood its own error channel.
type errorLimiter struct {
	mu      sync.Mutex
	windows map[string]*errorWindowState
}

type errorWindowState struct {
	start time.Time
	count int
}

func newErrorLimiter() *errorLimiter {
	return &errorLimiter{windows: make(map[string]*errorWindowState)}
}

func (l *errorLimiter) allow(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for uid, w := range l.windows {
		if now.Sub(w.start) > errorWindow {
			delete(l.windows, uid)
		}
	}
	w := l.windows[userID]
	if w == nil {
		l.windows[userID] = &errorWindowState{start: now, count: 1}
		return true
	}
	if w.count >= errorWindowMax {
		return false
	}
	w.count++
	return true
}
