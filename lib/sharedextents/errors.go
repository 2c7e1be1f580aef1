// Copyright (C) 2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package sharedextents

import (
	"errors"
)

var (
	// ErrInvalidRange is returned when a subrange does not satisfy
	// start < stop.  Nothing is recorded.
	ErrInvalidRange = errors.New("invalid subrange")

	// ErrResolvedTwice is returned when ownership data that has
	// already been resolved is resolved again or appended to.
	ErrResolvedTwice = errors.New("ownership data already resolved")
)
