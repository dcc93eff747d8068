// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package refcount_test

import (
	"strings"
	"testing"

	"github.com/gomlx/refcount/pkg/core/refcount"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	c, err := refcount.ParseConfig("")
	require.NoError(t, err)
	require.Equal(t, refcount.Config{}, c)

	c, err = refcount.ParseConfig("track, fatal")
	require.NoError(t, err)
	require.Equal(t, refcount.Config{Track: true, Fatal: true}, c)
	require.Equal(t, "track,fatal", c.String())

	c, err = refcount.ParseConfig("fatal,panic,,track")
	require.NoError(t, err)
	require.Equal(t, refcount.Config{Track: true}, c)

	_, err = refcount.ParseConfig("track,verbose")
	require.ErrorContains(t, err, `"verbose"`)
}

func TestSetConfig(t *testing.T) {
	previous := refcount.CurrentConfig()
	defer func() { require.NoError(t, refcount.SetConfig(previous.String())) }()

	require.NoError(t, refcount.SetConfig("track"))
	require.True(t, refcount.CurrentConfig().Track)
	require.Error(t, refcount.SetConfig("bogus"))
	require.True(t, refcount.CurrentConfig().Track, "a failed SetConfig must not change the configuration")
}

func TestLiveObjects(t *testing.T) {
	previous := refcount.CurrentConfig()
	defer func() { require.NoError(t, refcount.SetConfig(previous.String())) }()
	require.NoError(t, refcount.SetConfig("track"))

	before := refcount.NumLive()
	p := refcount.Make(newTestObject(1))
	q := refcount.New(func() *plainObject { return &plainObject{} })
	require.Equal(t, before+2, refcount.NumLive())

	var found []refcount.LiveObject
	for _, o := range refcount.LiveObjects() {
		if strings.HasSuffix(o.Type, "testObject") || strings.HasSuffix(o.Type, "plainObject") {
			found = append(found, o)
		}
	}
	require.Len(t, found, 2)
	assert.Equal(t, "*refcount_test.testObject", found[0].Type)
	assert.Contains(t, found[0].Site, "config_test.go")
	assert.Contains(t, found[1].Site, "config_test.go")
	assert.Less(t, found[0].ID, found[1].ID)
	assert.Contains(t, refcount.LiveReport(), "plainObject")

	// Resources released but not yet deallocated: still live.
	w := p.Weak()
	p.Reset()
	require.Equal(t, before+2, refcount.NumLive())
	w.Reset()
	q.Reset()
	require.Equal(t, before, refcount.NumLive())
}
