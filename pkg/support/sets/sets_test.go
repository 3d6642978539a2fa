// Copyright 2024-2026 The GoTron Authors. SPDX-License-Identifier: Apache-2.0

package sets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	s := MakeWith("a", "b", "c")
	assert.True(t, s.Has("a"))
	assert.False(t, s.Has("z"))
	s.Insert("z")
	assert.True(t, s.Has("z"))

	diff := s.Sub(MakeWith("b", "z"))
	assert.Equal(t, []string{"a", "c"}, SortedStrings(diff))
}
